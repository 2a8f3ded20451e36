// Package diag captures point-in-time diagnostic snapshots of the modem
// subsystem: a fixed set of properties, radio log excerpts and kernel log
// excerpts. Capture is best-effort; a failed sub-step leaves an empty field
// and a warning, never an error.
package diag

import (
	"sort"
	"strings"
	"time"
)

// Watched property keys. These must match the device verbatim.
const (
	PropMDStatus = "vendor.ril.md_status_from_ccci"
	PropMD1      = "vendor.mtk.md1.status"
	PropSIMState = "gsm.sim.state"
	PropOperator = "gsm.operator.numeric"

	// PropPartialICCID is only populated on some firmware builds; it is read
	// opportunistically and never required.
	PropPartialICCID = "vendor.ril.iccid.sim1"
)

// WatchedProperties is the focus set written to getprop_focus.txt.
var WatchedProperties = []string{PropMDStatus, PropMD1, PropSIMState, PropOperator}

// OptionalProperties are read alongside the watched set when present.
var OptionalProperties = []string{PropPartialICCID}

// RadioNotAvailable is the radio log marker whose frequency is a health signal.
const RadioNotAvailable = "RADIO_NOT_AVAILABLE"

// RadioMarkers select lines for the radio excerpt.
var RadioMarkers = []string{"GET_SIM_STATUS", "ICCID", "IMSI", RadioNotAvailable, "SIM_STATUS_CHANGED"}

// KernelMarkers select dmesg lines for the modem excerpt (case-insensitive).
var KernelMarkers = []string{"ccci", "nvram_io", "md exception", "ril"}

// Snapshot is an immutable capture of device state.
type Snapshot struct {
	Timestamp       time.Time         `json:"timestamp"`
	Device          string            `json:"device"`
	Properties      map[string]string `json:"properties"`
	RadioEventCount int               `json:"radio_event_count"`
	RadioExcerpt    []string          `json:"radio_excerpt,omitempty"`
	KernelExcerpt   []string          `json:"kernel_excerpt,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`

	// Raw texts kept for the on-disk bundle; only set by full captures.
	AllProps string `json:"-"`
	RadioLog string `json:"-"`
	Kernel   string `json:"-"`
}

// Prop returns a property value, or "" when it was not captured.
func (s *Snapshot) Prop(key string) string {
	if s == nil {
		return ""
	}
	return s.Properties[key]
}

func (s *Snapshot) MDStatus() string { return s.Prop(PropMDStatus) }
func (s *Snapshot) MD1Status() string { return s.Prop(PropMD1) }
func (s *Snapshot) SIMState() string  { return s.Prop(PropSIMState) }

// FocusText renders the watched properties as key=value lines in a stable order.
func (s *Snapshot) FocusText() string {
	var b strings.Builder
	for _, k := range WatchedProperties {
		b.WriteString(k + "=" + s.Prop(k) + "\n")
	}
	extra := make([]string, 0)
	for k := range s.Properties {
		if !isWatched(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		if v := s.Properties[k]; v != "" {
			b.WriteString(k + "=" + v + "\n")
		}
	}
	return b.String()
}

func isWatched(key string) bool {
	for _, k := range WatchedProperties {
		if k == key {
			return true
		}
	}
	return false
}
