package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDevices(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []string
	}{
		{"empty", "List of devices attached\n\n", nil},
		{"one online", "List of devices attached\nABC123\tdevice\n\n", []string{"ABC123"}},
		{"skips offline and unauthorized", "List of devices attached\nA\toffline\nB\tunauthorized\nC\tdevice\n", []string{"C"}},
		{"daemon banner", "* daemon not running; starting now at tcp:5037\n* daemon started successfully\nList of devices attached\nX\tdevice\nY\tdevice\n", []string{"X", "Y"}},
		{"crlf", "List of devices attached\r\nZ\tdevice\r\n", []string{"Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDevices(tt.out))
		})
	}
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, isTransportError("error: device 'X' not found"))
	assert.True(t, isTransportError("error: no devices/emulators found"))
	assert.False(t, isTransportError("mv: /mnt/vendor/nvdata: No such file or directory"))
}

func TestResultLines(t *testing.T) {
	assert.Nil(t, Result{}.Lines())
	assert.Equal(t, []string{"a", "b"}, Result{Stdout: "a\r\nb\r\n"}.Lines())
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'ls /data'`, ShellQuote("ls /data"))
	assert.Equal(t, `'echo '\''hi'\'''`, ShellQuote("echo 'hi'"))
}
