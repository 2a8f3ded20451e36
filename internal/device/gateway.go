// Package device provides the remote control channel to the attached handset.
// Everything else in nvguard talks to the device through the Gateway interface,
// so the recovery and capture logic can run against an in-memory fake in tests.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors returned by gateway implementations.
var (
	ErrDeviceUnavailable   = errors.New("device unavailable")
	ErrCommandFailed       = errors.New("command failed")
	ErrAmbiguousOrNoDevice = errors.New("no device or multiple devices connected")
	ErrNoRoot              = errors.New("root access unavailable")
)

// Result is the captured outcome of a shell command on the device.
type Result struct {
	Stdout   string
	ExitCode int
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Lines splits stdout into lines, dropping the trailing empty line and any
// carriage returns adb inserts on older devices.
func (r Result) Lines() []string {
	out := strings.ReplaceAll(r.Stdout, "\r\n", "\n")
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// CommandError describes a command that ran but exited non-zero.
type CommandError struct {
	Device   string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q exited %d", e.Device, e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap lets callers match with errors.Is(err, ErrCommandFailed).
func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Gateway is the capability set consumed by capture, backup, monitor and
// recovery. Blocking operations honor ctx for timeouts and cancellation.
type Gateway interface {
	// ListDevices returns the serials of devices that are online.
	ListDevices(ctx context.Context) ([]string, error)

	// Shell runs cmd as the shell user. A non-zero exit is reported in the
	// Result, not as an error; errors mean the command could not be run.
	Shell(ctx context.Context, id, cmd string) (Result, error)

	// PrivilegedShell runs cmd as the superuser.
	PrivilegedShell(ctx context.Context, id, cmd string) (Result, error)

	// ExecOut runs cmd as the superuser and streams raw stdout into w.
	ExecOut(ctx context.Context, id, cmd string, w io.Writer) error

	Push(ctx context.Context, id, local, remote string) error
	Pull(ctx context.Context, id, remote, local string) error
	Reboot(ctx context.Context, id string) error

	// WaitOnline blocks until the device is reachable and has finished booting.
	WaitOnline(ctx context.Context, id string) error
}

// MustSucceed converts a non-zero Result into a *CommandError.
func MustSucceed(id, cmd string, res Result, err error) (Result, error) {
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, &CommandError{Device: id, Command: cmd, ExitCode: res.ExitCode, Stderr: res.Stdout}
	}
	return res, nil
}
