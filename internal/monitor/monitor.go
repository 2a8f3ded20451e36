// Package monitor runs the periodic modem health loop.
//
// Each tick captures a snapshot, evaluates the monitor rule and, on alert,
// runs the configured alert command synchronously. The loop only suspends
// at its sleep and stops when ctx is cancelled or, with ExitOnAlert, on the
// first alert.
package monitor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/diag"
)

// DefaultInterval is the sleep between ticks.
const DefaultInterval = 60 * time.Second

// ErrAlertExit is returned by Loop when ExitOnAlert stopped the loop.
var ErrAlertExit = errors.New("monitor stopped on alert")

// Capturer is the snapshot source for one tick.
type Capturer interface {
	Capture(ctx context.Context, id string) *diag.Snapshot
}

// CommandRunner runs the alert side-effect command.
type CommandRunner func(ctx context.Context, command string, env []string) error

// ShellRunner runs command with sh -c, inheriting stdout/stderr.
func ShellRunner(ctx context.Context, command string, env []string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // operator configured command
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Tick is the outcome of one iteration.
type Tick struct {
	N        int
	Snapshot *diag.Snapshot
	Verdict  anomaly.Verdict
}

// Monitor polls one device.
type Monitor struct {
	Capturer     Capturer
	Device       string
	Interval     time.Duration
	ExitOnAlert  bool
	AlertCommand string
	Clock        clock.Clock
	Log          logrus.FieldLogger
	Runner       CommandRunner

	// Metrics and MetricsFile are optional; when both are set the textfile
	// is rewritten after every tick.
	Metrics     *Metrics
	MetricsFile string

	// OnTick, when set, sees every tick before any alert handling.
	OnTick func(Tick)

	mu   sync.Mutex
	rule anomaly.MonitorRule
}

// New returns a Monitor with defaults for zero values.
func New(c Capturer, device string, rule anomaly.MonitorRule, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		Capturer: c,
		Device:   device,
		Interval: DefaultInterval,
		Clock:    clock.Real{},
		Log:      log,
		Runner:   ShellRunner,
		rule:     rule,
	}
}

// Rule returns the rule in effect.
func (m *Monitor) Rule() anomaly.MonitorRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rule
}

// SetRule swaps the rule; the next tick uses it.
func (m *Monitor) SetRule(r anomaly.MonitorRule) {
	m.mu.Lock()
	m.rule = r
	m.mu.Unlock()
}

// Loop runs ticks until ctx is done (returning nil) or an alert stops it
// (returning ErrAlertExit).
func (m *Monitor) Loop(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	for n := 1; ; n++ {
		t := m.Tick(ctx, n)
		if t.Verdict.Anomalous && m.ExitOnAlert {
			return ErrAlertExit
		}
		if err := m.Clock.Sleep(ctx, interval); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Tick performs one capture, evaluation and, on alert, the side effect.
func (m *Monitor) Tick(ctx context.Context, n int) Tick {
	s := m.Capturer.Capture(ctx, m.Device)
	v := m.Rule().Evaluate(s)
	t := Tick{N: n, Snapshot: s, Verdict: v}

	log := m.Log.WithFields(logrus.Fields{
		"device": m.Device,
		"tick":   n,
		"rna":    s.RadioEventCount,
		"sim":    s.SIMState(),
	})
	if m.OnTick != nil {
		m.OnTick(t)
	}

	if m.Metrics != nil {
		m.Metrics.Observe(s, v)
		if m.MetricsFile != "" {
			if err := m.Metrics.WriteTextfile(m.MetricsFile); err != nil {
				log.WithError(err).Warn("writing metrics textfile")
			}
		}
	}

	if !v.Anomalous {
		log.Debug("healthy")
		return t
	}

	log.WithField("reasons", strings.Join(v.Strings(), ",")).Warn("modem anomaly detected")
	if m.AlertCommand != "" && m.Runner != nil {
		env := []string{
			"NVG_DEVICE=" + m.Device,
			"NVG_REASONS=" + strings.Join(v.Strings(), ","),
			"NVG_RNA_COUNT=" + strconv.Itoa(s.RadioEventCount),
			"NVG_SIM_STATE=" + s.SIMState(),
		}
		if err := m.Runner(ctx, m.AlertCommand, env); err != nil {
			log.WithError(err).Warn("alert command failed")
		}
	}
	return t
}
