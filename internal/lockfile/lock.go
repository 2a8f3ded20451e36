// Package lockfile serializes mutating nvg runs against one device.
//
// The lock is an advisory flock on <dir>/nvg-<serial>.lock. The kernel drops
// it when the holder exits, so a crashed run never leaves a stale lock; the
// JSON body only tells the next caller who holds it.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another process holds the device lock.
var ErrLocked = errors.New("device is locked by another nvg run")

var errLockBusy = errors.New("lock busy")

// Info is written into a held lock file.
type Info struct {
	PID       int       `json:"pid"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// LockedError describes the current holder.
type LockedError struct {
	Path string
	Info *Info
}

func (e *LockedError) Error() string {
	if e.Info == nil {
		return fmt.Sprintf("%v (%s)", ErrLocked, e.Path)
	}
	return fmt.Sprintf("%v: pid %d running %q since %s", ErrLocked, e.Info.PID, e.Info.Command, e.Info.StartedAt.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Lock is a held device lock.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file used for device in dir.
func Path(dir, device string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, device)
	return filepath.Join(dir, "nvg-"+safe+".lock")
}

// Acquire takes the lock for device without blocking.
func Acquire(dir, device, command string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := Path(dir, device)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 -- derived from work dir
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errLockBusy) {
			info, _ := ReadInfo(path)
			return nil, &LockedError{Path: path, Info: info}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	info := Info{PID: os.Getpid(), Device: device, Command: command, StartedAt: time.Now().UTC()}
	if err := writeInfo(f, info); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. The file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadInfo reads the holder description. A bare PID is accepted too.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- lock path
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format: %s", path)
	}
	return &Info{PID: pid}, nil
}
