// Package recovery implements the NV corruption repair state machine.
//
// A run moves one Session forward through a fixed graph:
//
//	INIT -> PRE_CAPTURED -> MATCHED -> BACKED_UP -> ISOLATED
//	     -> AWAITING_DEVICE -> POLLING -> RECOVERED | FAILED
//	PRE_CAPTURED -> NOT_MATCHED
//
// Nothing on the device changes before MATCHED. Fatal errors leave the
// session in the state where they occurred and are returned to the caller.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/debug"
	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/diag"
	"github.com/steveyegge/nvguard/internal/telemetry"
)

// Defaults for Options zero values.
const (
	DefaultPrimaryNV       = "/mnt/vendor/nvdata"
	DefaultSecondaryNV     = "/mnt/vendor/nvcfg"
	DefaultRemoteTmp       = "/data/local/tmp"
	DefaultMaxPollAttempts = 24
	DefaultPollInterval    = 5 * time.Second
	DefaultRebootGrace     = 5 * time.Second
	DefaultSettleDelay     = 10 * time.Second
)

var (
	// ErrIsolationFailed means the primary NV directory could not be moved aside.
	ErrIsolationFailed = errors.New("NV isolation failed")
	// ErrRebootFailed means the reboot command itself failed.
	ErrRebootFailed = errors.New("reboot failed")
	// ErrDeviceLost means the device did not come back after reboot.
	ErrDeviceLost = errors.New("device did not come back online")
	// ErrTerminal is returned by Step on a finished session.
	ErrTerminal = errors.New("session already finished")
	// ErrSessionExists means the work directory for this session id is taken.
	ErrSessionExists = errors.New("session work directory already exists")
)

// Snapshotter is the capture surface the machine needs.
type Snapshotter interface {
	CaptureFull(ctx context.Context, id string) *diag.Snapshot
	CaptureProperties(ctx context.Context, id string) *diag.Snapshot
}

// ConfirmFunc is asked once before anything on the device is touched.
// Returning false ends the session as NOT_MATCHED.
type ConfirmFunc func(s *Session) bool

// Options tune a Machine. Zero values take the package defaults.
type Options struct {
	WorkRoot        string
	PrimaryNV       string
	SecondaryNV     string
	RemoteTmp       string
	MaxPollAttempts int
	PollInterval    time.Duration
	RebootGrace     time.Duration
	SettleDelay     time.Duration
	// DryRun stops after the repair decision.
	DryRun bool
}

func (o Options) withDefaults() Options {
	if o.WorkRoot == "" {
		o.WorkRoot = "."
	}
	if o.PrimaryNV == "" {
		o.PrimaryNV = DefaultPrimaryNV
	}
	if o.RemoteTmp == "" {
		o.RemoteTmp = DefaultRemoteTmp
	}
	if o.MaxPollAttempts <= 0 {
		o.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RebootGrace < 0 {
		o.RebootGrace = 0
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	return o
}

// Machine drives recovery sessions for one device.
type Machine struct {
	Gateway   device.Gateway
	Snapshots Snapshotter
	Clock     clock.Clock
	Options   Options
	Confirm   ConfirmFunc
	Log       logrus.FieldLogger
}

// New returns a Machine with defaults applied.
func New(gw device.Gateway, snaps Snapshotter, opts Options, log logrus.FieldLogger) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{
		Gateway:   gw,
		Snapshots: snaps,
		Clock:     clock.Real{},
		Options:   opts.withDefaults(),
		Log:       log,
	}
}

// Start allocates a session for id and creates its work directory.
func (m *Machine) Start(id string) (*Session, error) {
	s := newSession(m.Options.WorkRoot, m.Clock.Now())
	s.Device = id
	if _, err := os.Stat(s.WorkDir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, s.WorkDir)
	}
	if err := os.MkdirAll(s.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	debug.LogEvent(s.WorkDir, "START", s.ID, s.Device, "state="+string(s.State))
	return s, nil
}

// Run starts a session and steps it until it is terminal, a fatal error
// occurs, or a dry run reaches its decision. session.json is written in
// every case where the work directory exists.
func (m *Machine) Run(ctx context.Context, id string) (*Session, error) {
	s, err := m.Start(id)
	if err != nil {
		return nil, err
	}

	for !s.Terminal() {
		if m.Options.DryRun && s.State == StateMatched {
			m.Log.WithField("rule", s.Rule).Info("dry run: stopping before any device change")
			break
		}
		if err = m.Step(ctx, s); err != nil {
			s.Error = err.Error()
			debug.LogEvent(s.WorkDir, "FATAL", s.ID, s.Device, err.Error())
			break
		}
	}

	s.FinishedAt = m.Clock.Now()
	if saveErr := s.Save(); saveErr != nil {
		m.Log.WithError(saveErr).Warn("could not write session record")
		if err == nil {
			err = saveErr
		}
	}
	return s, err
}

// Step performs exactly one transition out of the current state.
func (m *Machine) Step(ctx context.Context, s *Session) (err error) {
	if s.Terminal() {
		return ErrTerminal
	}

	from := s.State
	ctx, span := telemetry.Tracer("github.com/steveyegge/nvguard/recovery").Start(ctx,
		"recovery."+strings.ToLower(string(from)))
	span.SetAttributes(attribute.String("nvg.session", s.ID), attribute.String("nvg.device", s.Device))
	defer func() {
		span.SetAttributes(attribute.String("nvg.state.to", string(s.State)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch from {
	case StateInit:
		return m.capturePre(ctx, s)
	case StatePreCaptured:
		return m.decide(s)
	case StateMatched:
		return m.backup(ctx, s)
	case StateBackedUp:
		return m.isolate(ctx, s)
	case StateIsolated:
		return m.awaitDevice(ctx, s)
	case StateAwaitingDevice:
		return m.transition(s, StatePolling)
	case StatePolling:
		return m.poll(ctx, s)
	}
	return fmt.Errorf("unknown state %q", from)
}

func (m *Machine) transition(s *Session, to State) error {
	if !CanTransition(s.State, to) {
		return &IllegalTransitionError{From: s.State, To: to}
	}
	s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: m.Clock.Now()})
	m.Log.WithFields(logrus.Fields{"session": s.ID, "from": s.State, "to": to}).Info("state transition")
	debug.LogEvent(s.WorkDir, "STATE", s.ID, s.Device, fmt.Sprintf("%s->%s", s.State, to))
	s.State = to
	return nil
}

func (m *Machine) warn(s *Session, step string, err error) {
	s.Warnings = append(s.Warnings, Warning{State: s.State, Step: step, Message: err.Error()})
	m.Log.WithFields(logrus.Fields{"session": s.ID, "state": s.State, "step": step}).WithError(err).Warn("recovery step degraded")
	debug.LogEvent(s.WorkDir, "WARN", s.ID, s.Device, step+": "+err.Error())
}

func (m *Machine) su(ctx context.Context, s *Session, cmd string) error {
	res, err := m.Gateway.PrivilegedShell(ctx, s.Device, cmd)
	_, err = device.MustSucceed(s.Device, cmd, res, err)
	return err
}

// INIT -> PRE_CAPTURED
func (m *Machine) capturePre(ctx context.Context, s *Session) error {
	if _, err := device.SelectDevice(ctx, m.Gateway, s.Device); err != nil {
		return err
	}
	if err := device.RequireRoot(ctx, m.Gateway, s.Device); err != nil {
		return err
	}
	s.Pre = m.Snapshots.CaptureFull(ctx, s.Device)
	if err := diag.WriteBundle(filepath.Join(s.WorkDir, "pre"), s.Pre); err != nil {
		return fmt.Errorf("writing pre-fix capture: %w", err)
	}
	return m.transition(s, StatePreCaptured)
}

// PRE_CAPTURED -> MATCHED | NOT_MATCHED
func (m *Machine) decide(s *Session) error {
	ok, rule := anomaly.ShouldAttemptRepair(s.Pre)
	if !ok {
		m.Log.WithField("session", s.ID).Info("no NV corruption signature; leaving device untouched")
		return m.transition(s, StateNotMatched)
	}
	s.Rule = string(rule)
	return m.transition(s, StateMatched)
}

// MATCHED -> BACKED_UP, or NOT_MATCHED when the operator declines.
func (m *Machine) backup(ctx context.Context, s *Session) error {
	if m.Confirm != nil && !m.Confirm(s) {
		m.warn(s, "confirm", errors.New("operator declined NV isolation"))
		return m.transition(s, StateNotMatched)
	}
	for _, area := range m.areas() {
		name := fmt.Sprintf("%s_prefix_%s.tar.gz", path.Base(area), s.ID)
		if local, err := m.archiveArea(ctx, s, area, name); err != nil {
			m.warn(s, "backup "+area, err)
		} else {
			s.BackupArchives = append(s.BackupArchives, local)
		}
	}
	return m.transition(s, StateBackedUp)
}

func (m *Machine) areas() []string {
	out := []string{m.Options.PrimaryNV}
	if m.Options.SecondaryNV != "" {
		out = append(out, m.Options.SecondaryNV)
	}
	return out
}

// archiveArea tars area on the device, pulls it into the work directory and
// removes the remote copy. The remote cleanup is best-effort.
func (m *Machine) archiveArea(ctx context.Context, s *Session, area, name string) (string, error) {
	remote := path.Join(m.Options.RemoteTmp, name)
	local := filepath.Join(s.WorkDir, name)
	tarCmd := fmt.Sprintf("tar -czf %s -C %s %s",
		device.ShellQuote(remote), device.ShellQuote(path.Dir(area)), device.ShellQuote(path.Base(area)))

	tarErr := m.su(ctx, s, tarCmd)
	pullErr := m.Gateway.Pull(ctx, s.Device, remote, local)
	if _, err := m.Gateway.PrivilegedShell(ctx, s.Device, "rm -f "+device.ShellQuote(remote)); err != nil {
		m.Log.WithError(err).Debug("remote archive cleanup failed")
	}
	if pullErr != nil {
		if tarErr != nil {
			return "", fmt.Errorf("%w (after %v)", pullErr, tarErr)
		}
		return "", pullErr
	}
	if tarErr != nil {
		// tar can exit non-zero on unreadable files and still leave an archive.
		m.warn(s, "tar "+area, tarErr)
	}
	return local, nil
}

// BACKED_UP -> ISOLATED
func (m *Machine) isolate(ctx context.Context, s *Session) error {
	s.IsolationStamp = m.Clock.Now().Format(StampLayout)

	for i, area := range m.areas() {
		renamed := area + ".bak_" + s.IsolationStamp
		err := m.su(ctx, s, fmt.Sprintf("mv %s %s", device.ShellQuote(area), device.ShellQuote(renamed)))
		if err != nil {
			if i == 0 {
				return fmt.Errorf("%w: %s: %w", ErrIsolationFailed, area, err)
			}
			m.warn(s, "isolate "+area, err)
			continue
		}
		s.Isolated = append(s.Isolated, IsolatedDir{Original: area, Renamed: renamed})
	}

	if _, err := m.Gateway.PrivilegedShell(ctx, s.Device, "sync"); err != nil {
		m.Log.WithError(err).Debug("sync before reboot failed")
	}
	if err := m.Gateway.Reboot(ctx, s.Device); err != nil {
		return fmt.Errorf("%w: %w", ErrRebootFailed, err)
	}
	return m.transition(s, StateIsolated)
}

// ISOLATED -> AWAITING_DEVICE
func (m *Machine) awaitDevice(ctx context.Context, s *Session) error {
	if err := m.Clock.Sleep(ctx, m.Options.RebootGrace); err != nil {
		return err
	}
	if err := m.Gateway.WaitOnline(ctx, s.Device); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	if err := m.Clock.Sleep(ctx, m.Options.SettleDelay); err != nil {
		return err
	}
	return m.transition(s, StateAwaitingDevice)
}

// POLLING -> RECOVERED | FAILED. Attempts are bounded and spaced by
// PollInterval; there is no sleep after the last one.
func (m *Machine) poll(ctx context.Context, s *Session) error {
	for attempt := 1; attempt <= m.Options.MaxPollAttempts; attempt++ {
		s.PollAttempts = attempt
		s.LastPoll = m.Snapshots.CaptureProperties(ctx, s.Device)
		m.Log.WithFields(logrus.Fields{
			"session": s.ID,
			"attempt": attempt,
			"md":      s.LastPoll.MDStatus(),
			"sim":     s.LastPoll.SIMState(),
		}).Debug("recovery poll")

		if anomaly.Recovered(s.LastPoll) {
			if err := m.transition(s, StateRecovered); err != nil {
				return err
			}
			m.finishRecovered(ctx, s)
			return nil
		}
		if attempt < m.Options.MaxPollAttempts {
			if err := m.Clock.Sleep(ctx, m.Options.PollInterval); err != nil {
				return err
			}
		}
	}

	if err := m.transition(s, StateFailed); err != nil {
		return err
	}
	m.finishFailed(ctx, s)
	return nil
}

func (m *Machine) capturePost(ctx context.Context, s *Session) {
	s.Post = m.Snapshots.CaptureFull(ctx, s.Device)
	if err := diag.WriteBundle(filepath.Join(s.WorkDir, "post"), s.Post); err != nil {
		m.warn(s, "post capture", err)
	}
}

func (m *Machine) finishRecovered(ctx context.Context, s *Session) {
	m.capturePost(ctx, s)
	stamp := m.Clock.Now().Format(StampLayout)
	for _, dir := range s.Isolated {
		name := fmt.Sprintf("%s_known_good_%s.tar.gz", path.Base(dir.Original), stamp)
		local, err := m.archiveArea(ctx, s, dir.Original, name)
		if err != nil {
			m.warn(s, "known-good archive "+dir.Original, err)
			continue
		}
		s.KnownGoodArchive = append(s.KnownGoodArchive, local)
	}
}

func (m *Machine) finishFailed(ctx context.Context, s *Session) {
	m.capturePost(ctx, s)
	s.Rollback = RollbackCommands(s)
}

// RollbackCommands lists the adb commands that undo isolation: each
// regenerated directory is moved aside and the original restored.
func RollbackCommands(s *Session) []string {
	if len(s.Isolated) == 0 {
		return nil
	}
	failed := s.IsolationStamp
	if failed == "" {
		failed = s.ID
	}
	var cmds []string
	for _, dir := range s.Isolated {
		inner := fmt.Sprintf("mv %s %s.failed_%s; mv %s %s",
			dir.Original, dir.Original, failed, dir.Renamed, dir.Original)
		cmds = append(cmds, fmt.Sprintf("adb -s %s shell su -c %s", s.Device, device.ShellQuote(inner)))
	}
	cmds = append(cmds, fmt.Sprintf("adb -s %s reboot", s.Device))
	return cmds
}
