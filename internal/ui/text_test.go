package ui

import (
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func TestTruncateSimple(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short text unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncate with ellipsis", "hello world", 8, "hello..."},
		{"very short maxLen", "hello world", 3, "..."},
		{"empty string", "", 10, ""},
		{"unicode chars", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateSimple(tt.input, tt.maxLen))
		})
	}
}

func numbered(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line" + string(rune('a'+i))
	}
	return lines
}

func TestExcerpt(t *testing.T) {
	t.Run("short input unchanged", func(t *testing.T) {
		assert.Equal(t, numbered(3), Excerpt(numbered(3), 5, 0))
	})

	t.Run("keeps head and tail", func(t *testing.T) {
		got := Excerpt(numbered(10), 5, 0)
		assert.Len(t, got, 5)
		assert.Equal(t, []string{"linea", "lineb"}, got[:2])
		assert.Equal(t, "... (6 lines hidden) ...", got[2])
		assert.Equal(t, []string{"linei", "linej"}, got[3:])
	})

	t.Run("tiny max just cuts", func(t *testing.T) {
		assert.Equal(t, []string{"linea", "lineb"}, Excerpt(numbered(10), 2, 0))
	})

	t.Run("clips width", func(t *testing.T) {
		got := Excerpt([]string{strings.Repeat("x", 40)}, 5, 10)
		assert.Equal(t, []string{"xxxxxxx..."}, got)
	})
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n\n  b", Indent("a\n\nb", "  "))
}

func TestCheckLineAndState(t *testing.T) {
	assert.Equal(t, "✓ modem  ready", CheckLine(LevelPass, "modem", "ready"))
	assert.Equal(t, "✗ sim", CheckLine(LevelFail, "sim", ""))
	assert.Equal(t, "  └─ detail", DetailLine("detail"))
	assert.Equal(t, "RECOVERED", RenderState("RECOVERED"))
	assert.Equal(t, "SIM STATE", RenderHeader("sim state"))
}
