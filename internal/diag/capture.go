package diag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/device"
)

// DefaultRadioWindow is the number of trailing radio log lines inspected.
const DefaultRadioWindow = 2000

var kernelFilter = regexp.MustCompile(`(?i)` + strings.Join(quoteAll(KernelMarkers), "|"))

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}

// Capturer builds snapshots through a device gateway.
type Capturer struct {
	Gateway     device.Gateway
	RadioWindow int
	Clock       clock.Clock
	Log         logrus.FieldLogger
}

// NewCapturer returns a Capturer with defaults for zero values.
func NewCapturer(gw device.Gateway, radioWindow int, log logrus.FieldLogger) *Capturer {
	if radioWindow <= 0 {
		radioWindow = DefaultRadioWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Capturer{Gateway: gw, RadioWindow: radioWindow, Clock: clock.Real{}, Log: log}
}

func (c *Capturer) newSnapshot(id string) *Snapshot {
	return &Snapshot{
		Timestamp:  c.Clock.Now(),
		Device:     id,
		Properties: make(map[string]string, len(WatchedProperties)+len(OptionalProperties)),
	}
}

func (c *Capturer) warn(s *Snapshot, step string, err error) {
	msg := fmt.Sprintf("%s: %v", step, err)
	s.Warnings = append(s.Warnings, msg)
	c.Log.WithFields(logrus.Fields{"device": s.Device, "step": step}).WithError(err).Warn("capture step failed")
}

func (c *Capturer) readProperties(ctx context.Context, s *Snapshot) {
	for _, key := range WatchedProperties {
		s.Properties[key] = c.getprop(ctx, s, key)
	}
	for _, key := range OptionalProperties {
		if v := c.getprop(ctx, s, key); v != "" {
			s.Properties[key] = v
		}
	}
}

func (c *Capturer) getprop(ctx context.Context, s *Snapshot, key string) string {
	res, err := c.Gateway.Shell(ctx, s.Device, "getprop "+key)
	if err != nil {
		c.warn(s, "getprop "+key, err)
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(res.Stdout, "\r", ""))
}

// CaptureProperties reads only the watched and optional properties. The
// recovery poll loop uses it because it is cheap.
func (c *Capturer) CaptureProperties(ctx context.Context, id string) *Snapshot {
	s := c.newSnapshot(id)
	c.readProperties(ctx, s)
	return s
}

// Capture reads properties and the trailing radio log window.
func (c *Capturer) Capture(ctx context.Context, id string) *Snapshot {
	s := c.newSnapshot(id)
	c.readProperties(ctx, s)

	res, err := c.Gateway.Shell(ctx, id, fmt.Sprintf("logcat -b radio -d -t %d", c.RadioWindow))
	if err != nil {
		c.warn(s, "logcat radio", err)
		return s
	}
	c.applyRadioWindow(s, res.Lines())
	return s
}

// CaptureFull adds the full property dump, the full radio log and kernel log
// excerpts. Used before and after a repair.
func (c *Capturer) CaptureFull(ctx context.Context, id string) *Snapshot {
	s := c.newSnapshot(id)
	c.readProperties(ctx, s)

	if res, err := c.Gateway.Shell(ctx, id, "getprop"); err != nil {
		c.warn(s, "getprop all", err)
	} else {
		s.AllProps = res.Stdout
	}

	if res, err := c.Gateway.Shell(ctx, id, "logcat -b radio -d"); err != nil {
		c.warn(s, "logcat radio", err)
	} else {
		s.RadioLog = res.Stdout
		c.applyRadioWindow(s, tail(res.Lines(), c.RadioWindow))
	}

	if res, err := c.Gateway.PrivilegedShell(ctx, id, "dmesg"); err != nil {
		c.warn(s, "dmesg", err)
	} else {
		s.Kernel = res.Stdout
		s.KernelExcerpt = FilterKernel(res.Lines())
	}
	return s
}

func (c *Capturer) applyRadioWindow(s *Snapshot, window []string) {
	s.RadioEventCount = CountRadioEvents(window)
	s.RadioExcerpt = FilterRadio(window)
}

// CountRadioEvents counts lines carrying the RADIO_NOT_AVAILABLE marker.
func CountRadioEvents(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, RadioNotAvailable) {
			n++
		}
	}
	return n
}

// FilterRadio keeps lines containing any radio marker, in order.
func FilterRadio(lines []string) []string {
	var out []string
	for _, l := range lines {
		for _, m := range RadioMarkers {
			if strings.Contains(l, m) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// FilterKernel keeps dmesg lines mentioning modem markers, case-insensitively.
func FilterKernel(lines []string) []string {
	var out []string
	for _, l := range lines {
		if kernelFilter.MatchString(l) {
			out = append(out, l)
		}
	}
	return out
}

func tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
