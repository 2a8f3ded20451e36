// Package anomaly decides whether a diagnostic snapshot looks healthy.
//
// Three variants share one set of signal checks:
//   - EvaluateHealth: the one-shot health check, every signal independently
//   - ShouldAttemptRepair: the stricter gate in front of destructive repair
//   - MonitorRule: the per-tick check of the monitor loop
package anomaly

import (
	"regexp"
	"strings"

	"github.com/steveyegge/nvguard/internal/diag"
)

// Reason codes, in evaluation order.
type Reason string

const (
	ReasonMDNotReady  Reason = "MD_NOT_READY"
	ReasonMD1NotReady Reason = "MD1_NOT_READY"
	ReasonSIMStateBad Reason = "SIM_STATE_BAD"
	ReasonExcessRNA   Reason = "EXCESS_RNA"
)

// Defaults for the event-count thresholds.
const (
	DefaultHealthRNAThreshold  = 5
	DefaultMonitorRNAThreshold = 10
	DefaultSIMPattern          = "ABSENT|UNKNOWN"
)

// Verdict is derived from a snapshot. Anomalous is true exactly when Reasons
// is non-empty; build it with newVerdict to keep that so.
type Verdict struct {
	Anomalous bool     `json:"anomalous"`
	Reasons   []Reason `json:"reasons"`
}

func newVerdict(reasons []Reason) Verdict {
	if reasons == nil {
		reasons = []Reason{}
	}
	return Verdict{Anomalous: len(reasons) > 0, Reasons: reasons}
}

// Has reports whether r was triggered.
func (v Verdict) Has(r Reason) bool {
	for _, got := range v.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Strings returns the reason codes as plain strings.
func (v Verdict) Strings() []string {
	out := make([]string, len(v.Reasons))
	for i, r := range v.Reasons {
		out[i] = string(r)
	}
	return out
}

// SIMStateBad reports whether the SIM state mentions ABSENT or UNKNOWN anywhere,
// case-insensitively. Multi-slot devices report comma separated states.
func SIMStateBad(state string) bool {
	up := strings.ToUpper(state)
	return strings.Contains(up, "ABSENT") || strings.Contains(up, "UNKNOWN")
}

func mdReady(s *diag.Snapshot) bool  { return s.MDStatus() == "ready" }
func md1Ready(s *diag.Snapshot) bool { return s.MD1Status() == "ready" }

// EvaluateHealth flags every failing signal; reasons accumulate independently.
func EvaluateHealth(s *diag.Snapshot, rnaThreshold int) Verdict {
	var reasons []Reason
	if !mdReady(s) {
		reasons = append(reasons, ReasonMDNotReady)
	}
	if !md1Ready(s) {
		reasons = append(reasons, ReasonMD1NotReady)
	}
	if SIMStateBad(s.SIMState()) {
		reasons = append(reasons, ReasonSIMStateBad)
	}
	if s.RadioEventCount > rnaThreshold {
		reasons = append(reasons, ReasonExcessRNA)
	}
	return newVerdict(reasons)
}

// Rule names which repair signature matched.
type Rule string

const (
	RuleNone           Rule = ""
	RuleSIMAndModem    Rule = "sim-bad+md-not-ready"
	RuleMD1NotReady    Rule = "md1-not-ready"
	RuleICCIDModemStop Rule = "partial-iccid+md-stop"
)

// ShouldAttemptRepair is deliberately stricter than EvaluateHealth: a single
// transient signal is not enough to justify isolating NV data. It matches when
//
//	(a) the SIM state is bad and the modem is not ready, or
//	(b) md1 is not ready, or
//	(c) a partial ICCID is present while the modem reports exactly "stop".
func ShouldAttemptRepair(s *diag.Snapshot) (bool, Rule) {
	switch {
	case SIMStateBad(s.SIMState()) && !mdReady(s):
		return true, RuleSIMAndModem
	case !md1Ready(s):
		return true, RuleMD1NotReady
	case s.Prop(diag.PropPartialICCID) != "" && s.MDStatus() == "stop":
		return true, RuleICCIDModemStop
	}
	return false, RuleNone
}

// Recovered reports the post-reboot success criteria: modem ready and SIM loaded.
func Recovered(s *diag.Snapshot) bool {
	return mdReady(s) && strings.Contains(s.SIMState(), "LOADED")
}

// MonitorRule is the per-tick check used by the monitor loop.
type MonitorRule struct {
	RNAThreshold int
	SIMPattern   *regexp.Regexp
}

// NewMonitorRule compiles pattern; an empty pattern selects the default.
func NewMonitorRule(rnaThreshold int, pattern string) (MonitorRule, error) {
	if pattern == "" {
		pattern = DefaultSIMPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return MonitorRule{}, err
	}
	if rnaThreshold <= 0 {
		rnaThreshold = DefaultMonitorRNAThreshold
	}
	return MonitorRule{RNAThreshold: rnaThreshold, SIMPattern: re}, nil
}

// Evaluate flags EXCESS_RNA at or above the threshold and SIM_STATE_BAD when
// the SIM state matches the pattern.
func (r MonitorRule) Evaluate(s *diag.Snapshot) Verdict {
	var reasons []Reason
	if s.RadioEventCount >= r.RNAThreshold {
		reasons = append(reasons, ReasonExcessRNA)
	}
	if r.SIMPattern != nil && r.SIMPattern.MatchString(s.SIMState()) {
		reasons = append(reasons, ReasonSIMStateBad)
	}
	return newVerdict(reasons)
}
