// Package fakegw provides a scripted in-memory device.Gateway for tests.
//
// The fake understands the handful of commands nvguard issues for reading
// state (getprop, logcat, dmesg, id -u). Everything else is matched against
// Rules by substring, falling back to a successful empty result. Every call
// is recorded so tests can assert that no mutating command was issued.
//
// Usage:
//
//	gw := fakegw.New("SERIAL")
//	gw.Props["gsm.sim.state"] = "ABSENT,ABSENT"
//	gw.AddRule("mv /mnt/vendor/nvdata", device.Result{ExitCode: 1}, nil)
package fakegw

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/nvguard/internal/device"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op      string // shell, su, execout, push, pull, reboot, wait, list
	Device  string
	Command string
}

// Rule scripts the response to any command containing Match.
type Rule struct {
	Match  string
	Result device.Result
	Err    error
}

// Gateway is a fake device.Gateway. Zero values are usable after New.
type Gateway struct {
	mu sync.Mutex

	Devices  []string
	Root     bool
	Props    map[string]string
	RadioLog string
	Dmesg    string
	Rules    []Rule

	// Files holds remote file contents served by Pull.
	Files map[string][]byte
	// Streams maps a command substring to bytes written by ExecOut.
	Streams map[string][]byte
	// StreamErrs maps a command substring to an error returned by ExecOut
	// after its stream (if any) has been written.
	StreamErrs map[string]error
	// FailPull lists remote path substrings whose pull fails.
	FailPull []string

	ListErr   error
	RebootErr error
	WaitErr   error
	OnReboot  func(g *Gateway)

	Calls []Call
}

// New returns a rooted fake with a single online device.
func New(serial string) *Gateway {
	return &Gateway{
		Devices:    []string{serial},
		Root:       true,
		Props:      map[string]string{},
		Files:      map[string][]byte{},
		Streams:    map[string][]byte{},
		StreamErrs: map[string]error{},
	}
}

// AddRule appends a scripted response.
func (g *Gateway) AddRule(match string, res device.Result, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Rules = append(g.Rules, Rule{Match: match, Result: res, Err: err})
}

func (g *Gateway) record(op, id, cmd string) {
	g.Calls = append(g.Calls, Call{Op: op, Device: id, Command: cmd})
}

// ListDevices implements device.Gateway.
func (g *Gateway) ListDevices(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("list", "", "")
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	return append([]string(nil), g.Devices...), nil
}

// Shell implements device.Gateway.
func (g *Gateway) Shell(ctx context.Context, id, cmd string) (device.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("shell", id, cmd)
	return g.respond(cmd, false)
}

// PrivilegedShell implements device.Gateway.
func (g *Gateway) PrivilegedShell(ctx context.Context, id, cmd string) (device.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("su", id, cmd)
	return g.respond(cmd, true)
}

func (g *Gateway) respond(cmd string, privileged bool) (device.Result, error) {
	for _, r := range g.Rules {
		if strings.Contains(cmd, r.Match) {
			return r.Result, r.Err
		}
	}

	switch {
	case cmd == "id -u" && privileged:
		if g.Root {
			return device.Result{Stdout: "0\n"}, nil
		}
		return device.Result{Stdout: "2000\n"}, nil
	case cmd == "getprop":
		return device.Result{Stdout: g.allProps()}, nil
	case strings.HasPrefix(cmd, "getprop "):
		key := strings.TrimSpace(strings.TrimPrefix(cmd, "getprop "))
		return device.Result{Stdout: g.Props[key] + "\n"}, nil
	case strings.HasPrefix(cmd, "logcat -b radio"):
		return device.Result{Stdout: g.RadioLog}, nil
	case cmd == "dmesg":
		return device.Result{Stdout: g.Dmesg}, nil
	}
	return device.Result{}, nil
}

func (g *Gateway) allProps() string {
	keys := make([]string, 0, len(g.Props))
	for k := range g.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "[%s]: [%s]\n", k, g.Props[k])
	}
	return b.String()
}

// ExecOut implements device.Gateway.
func (g *Gateway) ExecOut(ctx context.Context, id, cmd string, w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("execout", id, cmd)
	for match, data := range g.Streams {
		if strings.Contains(cmd, match) {
			if _, err := w.Write(data); err != nil {
				return err
			}
			break
		}
	}
	for match, err := range g.StreamErrs {
		if strings.Contains(cmd, match) {
			return err
		}
	}
	return ctx.Err()
}

// Push implements device.Gateway.
func (g *Gateway) Push(ctx context.Context, id, local, remote string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("push", id, local+" -> "+remote)
	data, err := os.ReadFile(local) //nolint:gosec // test helper
	if err != nil {
		return err
	}
	g.Files[remote] = data
	return nil
}

// Pull implements device.Gateway. Unknown remote paths yield placeholder
// content so best-effort archive pulls succeed by default.
func (g *Gateway) Pull(ctx context.Context, id, remote, local string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("pull", id, remote+" -> "+local)
	for _, f := range g.FailPull {
		if strings.Contains(remote, f) {
			return &device.CommandError{Device: id, Command: "pull " + remote, ExitCode: 1, Stderr: "remote object does not exist"}
		}
	}
	data, ok := g.Files[remote]
	if !ok {
		data = []byte("fake:" + remote)
	}
	return os.WriteFile(local, data, 0o600)
}

// Reboot implements device.Gateway.
func (g *Gateway) Reboot(ctx context.Context, id string) error {
	g.mu.Lock()
	g.record("reboot", id, "")
	hook, err := g.OnReboot, g.RebootErr
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(g)
	}
	return nil
}

// WaitOnline implements device.Gateway.
func (g *Gateway) WaitOnline(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("wait", id, "")
	return g.WaitErr
}

// Ran reports whether any recorded command contains substr.
func (g *Gateway) Ran(substr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.Calls {
		if strings.Contains(c.Command, substr) {
			return true
		}
	}
	return false
}

// Count returns how many calls of op were recorded.
func (g *Gateway) Count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Mutations returns recorded calls that change device state.
func (g *Gateway) Mutations() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.Calls {
		switch {
		case c.Op == "reboot", c.Op == "push":
			out = append(out, c)
		case c.Op == "su" && (strings.HasPrefix(c.Command, "mv ") || strings.Contains(c.Command, "tar -x")):
			out = append(out, c)
		}
	}
	return out
}

var _ device.Gateway = (*Gateway)(nil)
