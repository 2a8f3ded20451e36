package ui

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultExcerptLines bounds how many log excerpt lines are printed inline.
const DefaultExcerptLines = 12

// TruncateSimple shortens text to maxLen runes with a "..." suffix.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// Excerpt returns at most max lines, keeping the head and tail and
// replacing the middle with a muted "(n lines hidden)" marker. Each line is
// clipped to width runes when width > 0.
func Excerpt(lines []string, max, width int) []string {
	clip := func(s string) string {
		if width > 0 {
			return TruncateSimple(s, width)
		}
		return s
	}
	if max <= 0 || len(lines) <= max {
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = clip(l)
		}
		return out
	}
	if max < 3 {
		out := make([]string, 0, max)
		for _, l := range lines[:max] {
			out = append(out, clip(l))
		}
		return out
	}

	head := (max - 1) / 2
	tail := max - 1 - head
	hidden := len(lines) - head - tail

	out := make([]string, 0, max)
	for _, l := range lines[:head] {
		out = append(out, clip(l))
	}
	out = append(out, RenderMuted("... ("+strconv.Itoa(hidden)+" lines hidden) ..."))
	for _, l := range lines[len(lines)-tail:] {
		out = append(out, clip(l))
	}
	return out
}

// Indent prefixes every non-empty line of text.
func Indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
