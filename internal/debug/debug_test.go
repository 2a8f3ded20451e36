package debug

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env set", true, false, true},
		{"verbose flag", false, true, true},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

			enabled = tt.env
			verboseMode = tt.verbose
			assert.Equal(t, tt.want, Enabled())
		})
	}
}

func TestLogf(t *testing.T) {
	oldEnabled := enabled
	oldStderr := os.Stderr
	defer func() {
		enabled = oldEnabled
		os.Stderr = oldStderr
	}()

	for _, on := range []bool{true, false} {
		enabled = on
		r, w, _ := os.Pipe()
		os.Stderr = w

		Logf("test message: %s\n", "hello")

		w.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)

		if on {
			assert.Equal(t, "test message: hello\n", buf.String())
		} else {
			assert.Empty(t, buf.String())
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	defer func() { enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet }()
	enabled = false

	verboseMode, quietMode = false, false
	assert.Equal(t, logrus.InfoLevel, NewLogger(io.Discard, FormatText).GetLevel())

	quietMode = true
	assert.Equal(t, logrus.WarnLevel, NewLogger(io.Discard, FormatText).GetLevel())

	verboseMode = true
	assert.Equal(t, logrus.DebugLevel, NewLogger(io.Discard, FormatText).GetLevel())
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, FormatJSON)
	log.WithField("device", "SER1").Warn("hello")
	assert.Contains(t, buf.String(), `"device":"SER1"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLogEvent(t *testing.T) {
	oldNow := now
	defer func() { now = oldNow }()
	now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }

	dir := filepath.Join(t.TempDir(), "session")
	LogEvent(dir, "STATE", "20261001-120000", "SER1", "INIT->PRE_CAPTURED")
	LogEvent(dir, "WARN", "", "", "pull failed")

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-10-01T12:00:00Z|STATE|20261001-120000|SER1|INIT->PRE_CAPTURED", lines[0])
	assert.Equal(t, "2026-10-01T12:00:00Z|WARN|none|none|pull failed", lines[1])
}

func TestLogEventNoDir(t *testing.T) {
	// Must not panic or create anything.
	LogEvent("", "STATE", "x", "y", "z")
}
