package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ADB drives a device through the adb binary.
type ADB struct {
	// Path to the adb executable. Defaults to "adb" on $PATH.
	Path string

	// SuPrefix is prepended to privileged commands. Defaults to "su -c".
	SuPrefix string

	// BootTimeout bounds WaitOnline. Zero means wait until ctx is done.
	BootTimeout time.Duration

	Log logrus.FieldLogger
}

// NewADB returns an ADB gateway with defaults applied.
func NewADB(path string, log logrus.FieldLogger) *ADB {
	if path == "" {
		path = "adb"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ADB{Path: path, SuPrefix: "su -c", Log: log}
}

func (a *ADB) run(ctx context.Context, stdout io.Writer, args ...string) (int, string, error) {
	cmd := exec.CommandContext(ctx, a.Path, args...) // #nosec G204 -- adb path comes from operator config
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	a.Log.WithField("args", args).Debug("adb")
	err := cmd.Run()
	if err == nil {
		return 0, stderr.String(), nil
	}
	if ctx.Err() != nil {
		return -1, stderr.String(), ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if isTransportError(stderr.String()) {
			return exitErr.ExitCode(), stderr.String(), fmt.Errorf("%w: %s", ErrDeviceUnavailable, strings.TrimSpace(stderr.String()))
		}
		return exitErr.ExitCode(), stderr.String(), nil
	}
	return -1, stderr.String(), fmt.Errorf("running adb: %w", err)
}

// isTransportError distinguishes adb's own failures from remote exit codes.
func isTransportError(stderr string) bool {
	for _, marker := range []string{"error: device", "no devices/emulators", "device offline", "device unauthorized", "closed"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// ListDevices implements Gateway.
func (a *ADB) ListDevices(ctx context.Context) ([]string, error) {
	var out bytes.Buffer
	if _, _, err := a.run(ctx, &out, "devices"); err != nil {
		return nil, err
	}
	return parseDevices(out.String()), nil
}

// parseDevices extracts serials in the "device" state from `adb devices`.
func parseDevices(out string) []string {
	var devices []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			devices = append(devices, fields[0])
		}
	}
	return devices
}

// Shell implements Gateway.
func (a *ADB) Shell(ctx context.Context, id, cmd string) (Result, error) {
	var out bytes.Buffer
	code, _, err := a.run(ctx, &out, "-s", id, "shell", cmd)
	return Result{Stdout: out.String(), ExitCode: code}, err
}

func (a *ADB) privileged(cmd string) string {
	return a.SuPrefix + " " + ShellQuote(cmd)
}

// PrivilegedShell implements Gateway.
func (a *ADB) PrivilegedShell(ctx context.Context, id, cmd string) (Result, error) {
	return a.Shell(ctx, id, a.privileged(cmd))
}

// ExecOut implements Gateway. exec-out keeps the stream binary-safe.
func (a *ADB) ExecOut(ctx context.Context, id, cmd string, w io.Writer) error {
	code, stderr, err := a.run(ctx, w, "-s", id, "exec-out", a.privileged(cmd))
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Device: id, Command: cmd, ExitCode: code, Stderr: stderr}
	}
	return nil
}

func (a *ADB) transfer(ctx context.Context, id, verb, from, to string) error {
	code, stderr, err := a.run(ctx, io.Discard, "-s", id, verb, from, to)
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Device: id, Command: verb + " " + from, ExitCode: code, Stderr: stderr}
	}
	return nil
}

// Push implements Gateway.
func (a *ADB) Push(ctx context.Context, id, local, remote string) error {
	return a.transfer(ctx, id, "push", local, remote)
}

// Pull implements Gateway.
func (a *ADB) Pull(ctx context.Context, id, remote, local string) error {
	return a.transfer(ctx, id, "pull", remote, local)
}

// Reboot implements Gateway.
func (a *ADB) Reboot(ctx context.Context, id string) error {
	code, stderr, err := a.run(ctx, io.Discard, "-s", id, "reboot")
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Device: id, Command: "reboot", ExitCode: code, Stderr: stderr}
	}
	return nil
}

// WaitOnline implements Gateway. It blocks in `adb wait-for-device` and then
// polls sys.boot_completed with exponential backoff.
func (a *ADB) WaitOnline(ctx context.Context, id string) error {
	if a.BootTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.BootTimeout)
		defer cancel()
	}

	if _, _, err := a.run(ctx, io.Discard, "-s", id, "wait-for-device"); err != nil {
		return fmt.Errorf("waiting for %s: %w", id, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		res, err := a.Shell(ctx, id, "getprop sys.boot_completed")
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if strings.TrimSpace(res.Stdout) != "1" {
			return fmt.Errorf("%w: %s still booting", ErrDeviceUnavailable, id)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

var _ Gateway = (*ADB)(nil)
