// Package ui provides terminal styling for nvg output.
// Colors are adaptive so the same palette works on light and dark terminals.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	ColorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	// ColorMuted is used for paths, timestamps and other secondary detail.
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

const (
	TreeLast       = "└─ "
	SeparatorLight = "──────────────────────────────────────────"
)

// Init disables styling when color is not wanted. Call once at startup,
// before anything is rendered.
func Init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderHeader renders a section header in uppercase.
func RenderHeader(s string) string {
	return HeaderStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// Level classifies a line of check output.
type Level int

const (
	LevelPass Level = iota
	LevelWarn
	LevelFail
	LevelSkip
	LevelInfo
)

func (l Level) icon() string {
	switch l {
	case LevelPass:
		return PassStyle.Render(IconPass)
	case LevelWarn:
		return WarnStyle.Render(IconWarn)
	case LevelFail:
		return FailStyle.Render(IconFail)
	case LevelSkip:
		return MutedStyle.Render(IconSkip)
	default:
		return AccentStyle.Render(IconInfo)
	}
}

// CheckLine renders "<icon> label  detail", with detail muted. An empty
// detail drops the trailing column.
func CheckLine(level Level, label, detail string) string {
	line := fmt.Sprintf("%s %s", level.icon(), label)
	if detail != "" {
		line += "  " + RenderMuted(detail)
	}
	return line
}

// DetailLine renders an indented continuation under a CheckLine.
func DetailLine(s string) string {
	return "  " + MutedStyle.Render(TreeLast) + s
}

// RenderState colors a recovery state name by outcome.
func RenderState(state string) string {
	switch state {
	case "RECOVERED":
		return PassStyle.Bold(true).Render(state)
	case "FAILED":
		return FailStyle.Bold(true).Render(state)
	case "NOT_MATCHED":
		return MutedStyle.Render(state)
	default:
		return AccentStyle.Render(state)
	}
}
