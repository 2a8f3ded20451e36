package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/lockfile"
)

// Exit codes. Scripts depend on these.
const (
	exitOK           = 0
	exitFatal        = 1
	exitUsage        = 2
	exitNotRecovered = 2
	exitAnomalies    = 10
	exitAlert        = 20
)

// FatalError writes an error message to stderr and exits with code 1.
// Only for failures before any device work begins; later failures are
// returned so deferred cleanup (locks, telemetry) still runs.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitFatal)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(exitFatal)
}

// WarnError writes a warning message to stderr and returns.
// Use this for auxiliary steps whose failure does not change the outcome.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// exitError carries a documented exit code out of RunE. A nil err means
// the outcome was already reported and nothing more is printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func usageError(err error) error {
	return exitWith(exitUsage, err)
}

func usageErrorf(format string, args ...interface{}) error {
	return usageError(fmt.Errorf(format, args...))
}

type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }

func withHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &hintError{err: err, hint: hint}
}

// hintFor suggests a fix for the common operator mistakes.
func hintFor(err error) string {
	var h *hintError
	switch {
	case errors.As(err, &h):
		return h.hint
	case errors.Is(err, device.ErrAmbiguousOrNoDevice):
		return "Pass --device <serial>; 'nvg devices' lists attached devices"
	case errors.Is(err, device.ErrNoRoot):
		return "nvg needs root: 'adb shell su -c id' must report uid=0"
	case errors.Is(err, lockfile.ErrLocked):
		return "Another nvg run is working on this device; wait for it to finish"
	}
	return ""
}

// exitCode reports err on stderr and maps it to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	code := exitFatal
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		if ee.err == nil {
			return code
		}
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if hint := hintFor(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	if code == exitUsage && ee != nil {
		fmt.Fprintln(os.Stderr, "Run 'nvg --help' for usage.")
	}
	return code
}
