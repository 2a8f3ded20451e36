// Package restore puts a known-good NV archive back onto a device.
//
// Restoring is two steps so the destructive half can be confirmed
// separately: Stage pushes the archive and checks it arrived intact, Apply
// moves the live area aside and unpacks the staged archive in its place.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/nvguard/internal/archdiff"
	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/device"
)

// StampLayout suffixes the moved-aside area.
const StampLayout = "20060102-150405"

var (
	// ErrArchiveMismatch means the archive does not contain the target area.
	ErrArchiveMismatch = errors.New("archive does not match NV area")
	// ErrStageFailed means the pushed archive could not be confirmed on the device.
	ErrStageFailed = errors.New("staging failed")
	// ErrApplyFailed means the live area could not be replaced.
	ErrApplyFailed = errors.New("restore failed")
)

// Staged describes an archive waiting on the device.
type Staged struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
	Size   int64  `json:"size"`
	Root   string `json:"root"`
}

// Applied describes a completed restore.
type Applied struct {
	Area     string `json:"area"`
	Previous string `json:"previous"`
	Rebooted bool   `json:"rebooted"`
}

// Stager performs restores through a device gateway.
type Stager struct {
	Gateway   device.Gateway
	Clock     clock.Clock
	Log       logrus.FieldLogger
	RemoteTmp string
}

// NewStager returns a Stager using the default remote staging directory.
func NewStager(gw device.Gateway, log logrus.FieldLogger) *Stager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stager{Gateway: gw, Clock: clock.Real{}, Log: log, RemoteTmp: "/data/local/tmp"}
}

// archiveRoot returns the single top-level directory of archive.
func archiveRoot(archive string) (string, error) {
	names, err := archdiff.List(archive)
	if err != nil {
		return "", err
	}
	root := ""
	for _, n := range names {
		top, _, _ := strings.Cut(strings.TrimPrefix(n, "./"), "/")
		if top == "" || top == "." {
			continue
		}
		if root == "" {
			root = top
		} else if top != root {
			return "", fmt.Errorf("%w: multiple top-level entries (%s, %s)", ErrArchiveMismatch, root, top)
		}
	}
	if root == "" {
		return "", fmt.Errorf("%w: archive is empty", ErrArchiveMismatch)
	}
	return root, nil
}

// Stage pushes archive to the device and confirms the remote size.
func (s *Stager) Stage(ctx context.Context, id, archive string) (*Staged, error) {
	info, err := os.Stat(archive)
	if err != nil {
		return nil, err
	}
	root, err := archiveRoot(archive)
	if err != nil {
		return nil, err
	}

	remote := path.Join(s.RemoteTmp, "nvg_restore_"+filepath.Base(archive))
	if err := s.Gateway.Push(ctx, id, archive, remote); err != nil {
		return nil, fmt.Errorf("%w: push: %w", ErrStageFailed, err)
	}

	cmd := "stat -c %s " + device.ShellQuote(remote)
	res, err := s.Gateway.PrivilegedShell(ctx, id, cmd)
	res, err = device.MustSucceed(id, cmd, res, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStageFailed, err)
	}
	got, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil || got != info.Size() {
		return nil, fmt.Errorf("%w: remote size %q, local size %d", ErrStageFailed, strings.TrimSpace(res.Stdout), info.Size())
	}

	s.Log.WithFields(logrus.Fields{"device": id, "remote": remote, "root": root}).Info("archive staged")
	return &Staged{Local: archive, Remote: remote, Size: got, Root: root}, nil
}

// Apply replaces area with the staged archive. The live area is moved to
// <area>.pre_restore_<stamp> first; if unpacking fails it is moved back.
func (s *Stager) Apply(ctx context.Context, id string, staged *Staged, area string, reboot bool) (*Applied, error) {
	if path.Base(area) != staged.Root {
		return nil, fmt.Errorf("%w: archive holds %q, target is %s", ErrArchiveMismatch, staged.Root, area)
	}
	if err := device.RequireRoot(ctx, s.Gateway, id); err != nil {
		return nil, err
	}

	su := func(cmd string) error {
		res, err := s.Gateway.PrivilegedShell(ctx, id, cmd)
		_, err = device.MustSucceed(id, cmd, res, err)
		return err
	}

	previous := area + ".pre_restore_" + s.Clock.Now().Format(StampLayout)
	qArea, qPrev := device.ShellQuote(area), device.ShellQuote(previous)
	if err := su(fmt.Sprintf("mv %s %s", qArea, qPrev)); err != nil {
		return nil, fmt.Errorf("%w: moving %s aside: %w", ErrApplyFailed, area, err)
	}

	extract := fmt.Sprintf("tar -xzf %s -C %s", device.ShellQuote(staged.Remote), device.ShellQuote(path.Dir(area)))
	if err := su(extract); err != nil {
		if undo := su(fmt.Sprintf("rm -rf %s; mv %s %s", qArea, qPrev, qArea)); undo != nil {
			s.Log.WithError(undo).Error("could not put the original NV area back")
			return nil, fmt.Errorf("%w: extract: %w (original left at %s)", ErrApplyFailed, err, previous)
		}
		return nil, fmt.Errorf("%w: extract: %w", ErrApplyFailed, err)
	}
	_, _ = s.Gateway.PrivilegedShell(ctx, id, "rm -f "+device.ShellQuote(staged.Remote))

	applied := &Applied{Area: area, Previous: previous}
	s.Log.WithFields(logrus.Fields{"device": id, "area": area, "previous": previous}).Info("NV area restored")
	if reboot {
		if err := s.Gateway.Reboot(ctx, id); err != nil {
			return applied, fmt.Errorf("reboot after restore: %w", err)
		}
		applied.Rebooted = true
	}
	return applied, nil
}
