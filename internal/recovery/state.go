package recovery

import (
	"fmt"
)

// State is a recovery session state. Sessions only move forward.
type State string

const (
	StateInit           State = "INIT"
	StatePreCaptured    State = "PRE_CAPTURED"
	StateMatched        State = "MATCHED"
	StateNotMatched     State = "NOT_MATCHED"
	StateBackedUp       State = "BACKED_UP"
	StateIsolated       State = "ISOLATED"
	StateAwaitingDevice State = "AWAITING_DEVICE"
	StatePolling        State = "POLLING"
	StateRecovered      State = "RECOVERED"
	StateFailed         State = "FAILED"
)

// transitions is the complete forward graph. MATCHED may fall back to
// NOT_MATCHED only when the operator declines the destructive step.
var transitions = map[State][]State{
	StateInit:           {StatePreCaptured},
	StatePreCaptured:    {StateMatched, StateNotMatched},
	StateMatched:        {StateBackedUp, StateNotMatched},
	StateBackedUp:       {StateIsolated},
	StateIsolated:       {StateAwaitingDevice},
	StateAwaitingDevice: {StatePolling},
	StatePolling:        {StateRecovered, StateFailed},
}

// Terminal reports whether no further transitions exist from s.
func (s State) Terminal() bool {
	return s == StateRecovered || s == StateFailed || s == StateNotMatched
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError is returned when a step tries to leave the graph.
type IllegalTransitionError struct {
	From, To State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal recovery transition %s -> %s", e.From, e.To)
}
