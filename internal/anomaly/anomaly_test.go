package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/nvguard/internal/diag"
)

func snap(md, md1, sim string, rna int) *diag.Snapshot {
	return &diag.Snapshot{
		Properties: map[string]string{
			diag.PropMDStatus: md,
			diag.PropMD1:      md1,
			diag.PropSIMState: sim,
		},
		RadioEventCount: rna,
	}
}

func TestEvaluateHealth(t *testing.T) {
	tests := []struct {
		name string
		s    *diag.Snapshot
		want []Reason
	}{
		{"healthy", snap("ready", "ready", "LOADED,LOADED", 0), []Reason{}},
		{"rna at threshold is fine", snap("ready", "ready", "READY", 5), []Reason{}},
		{"rna above threshold", snap("ready", "ready", "READY", 6), []Reason{ReasonExcessRNA}},
		{"md not ready", snap("stop", "ready", "LOADED", 0), []Reason{ReasonMDNotReady}},
		{"md1 empty", snap("ready", "", "LOADED", 0), []Reason{ReasonMD1NotReady}},
		{"sim lowercase unknown", snap("ready", "ready", "loaded,unknown", 0), []Reason{ReasonSIMStateBad}},
		{"everything", snap("exception", "boot", "ABSENT", 99), []Reason{ReasonMDNotReady, ReasonMD1NotReady, ReasonSIMStateBad, ReasonExcessRNA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateHealth(tt.s, DefaultHealthRNAThreshold)
			assert.Equal(t, tt.want, v.Reasons)
			assert.Equal(t, len(tt.want) > 0, v.Anomalous)
		})
	}
}

// Any snapshot with ready modems, a clean SIM state and a low event count
// must come back clean.
func TestEvaluateHealthHealthyPropertySweep(t *testing.T) {
	for _, sim := range []string{"", "READY", "LOADED", "LOADED,LOADED", "NOT_READY,LOADED", "PIN_REQUIRED"} {
		for rna := 0; rna < DefaultHealthRNAThreshold; rna++ {
			v := EvaluateHealth(snap("ready", "ready", sim, rna), DefaultHealthRNAThreshold)
			require.False(t, v.Anomalous, "sim=%q rna=%d", sim, rna)
			require.Empty(t, v.Reasons)
		}
	}
}

func TestShouldAttemptRepair(t *testing.T) {
	iccid := snap("stop", "ready", "READY", 0)
	iccid.Properties[diag.PropPartialICCID] = "89860"

	iccidNotStop := snap("exception", "ready", "READY", 0)
	iccidNotStop.Properties[diag.PropPartialICCID] = "89860"

	tests := []struct {
		name string
		s    *diag.Snapshot
		want bool
		rule Rule
	}{
		{"healthy", snap("ready", "ready", "LOADED", 0), false, RuleNone},
		{"sim bad but modem ready", snap("ready", "ready", "ABSENT", 0), false, RuleNone},
		{"modem down but sim fine", snap("stop", "ready", "LOADED", 0), false, RuleNone},
		{"excess rna alone", snap("ready", "ready", "LOADED", 500), false, RuleNone},
		{"rule a", snap("stop", "ready", "ABSENT,ABSENT", 0), true, RuleSIMAndModem},
		{"rule b", snap("ready", "exception", "LOADED", 0), true, RuleMD1NotReady},
		{"rule c", iccid, true, RuleICCIDModemStop},
		{"rule c needs exact stop", iccidNotStop, false, RuleNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := ShouldAttemptRepair(tt.s)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rule, rule)
		})
	}
}

func TestShouldAttemptRepairSIMBadModemDownSweep(t *testing.T) {
	for _, sim := range []string{"ABSENT", "absent", "UNKNOWN", "LOADED,unknown", "xxAbSeNtxx"} {
		for _, md := range []string{"", "stop", "exception", "boot", "READY"} {
			ok, _ := ShouldAttemptRepair(snap(md, "ready", sim, 0))
			assert.True(t, ok, "sim=%q md=%q", sim, md)
		}
	}
}

func TestEndToEndRuleAAndHealth(t *testing.T) {
	s := snap("stop", "ready", "ABSENT,ABSENT", 0)

	ok, rule := ShouldAttemptRepair(s)
	assert.True(t, ok)
	assert.Equal(t, RuleSIMAndModem, rule)

	v := EvaluateHealth(s, DefaultHealthRNAThreshold)
	assert.True(t, v.Anomalous)
	assert.True(t, v.Has(ReasonSIMStateBad))
	assert.True(t, v.Has(ReasonMDNotReady))
	assert.False(t, v.Has(ReasonExcessRNA))
}

func TestRecovered(t *testing.T) {
	assert.True(t, Recovered(snap("ready", "", "LOADED,ABSENT", 0)))
	assert.False(t, Recovered(snap("ready", "ready", "READY", 0)))
	assert.False(t, Recovered(snap("stop", "ready", "LOADED", 0)))
}

func TestMonitorRule(t *testing.T) {
	r, err := NewMonitorRule(0, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMonitorRNAThreshold, r.RNAThreshold)

	assert.False(t, r.Evaluate(snap("ready", "ready", "LOADED", 9)).Anomalous)
	assert.Equal(t, []Reason{ReasonExcessRNA}, r.Evaluate(snap("ready", "ready", "LOADED", 10)).Reasons)
	assert.Equal(t, []Reason{ReasonSIMStateBad}, r.Evaluate(snap("ready", "ready", "LOADED,ABSENT", 0)).Reasons)

	custom, err := NewMonitorRule(3, "NOT_READY")
	require.NoError(t, err)
	assert.True(t, custom.Evaluate(snap("", "", "NOT_READY", 0)).Has(ReasonSIMStateBad))
	assert.False(t, custom.Evaluate(snap("", "", "ABSENT", 0)).Anomalous)

	_, err = NewMonitorRule(3, "(")
	require.Error(t, err)
}
