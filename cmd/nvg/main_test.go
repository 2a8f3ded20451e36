package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "nvg-cmd-tests-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	oldWD, _ := os.Getwd()
	_ = os.Chdir(tmp)
	_ = os.Setenv("HOME", tmp)
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg-config"))
	_ = os.Setenv("NO_COLOR", "1")

	code := m.Run()

	_ = os.Chdir(oldWD)
	_ = os.RemoveAll(tmp)
	os.Exit(code)
}

// run executes nvg with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	format = formatText
	quietFlag, verboseFlag = false, false
	configFile = ""

	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	done := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()

	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(context.Background())
	_ = w.Close()
	return string(<-done), runErr
}

func writeNVArchive(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "nvdata/", Mode: 0o755, Typeflag: tar.TypeDir}))
	for n, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "nvdata/" + n, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeNVArchive(t, dir, "a.tar.gz", map[string]string{"md/NVRAM/NVD_IMEI/LD0B_001": "imei"})
	b := writeNVArchive(t, dir, "b.tar.gz", map[string]string{"md/NVRAM/NVD_IMEI/LD0B_001": "imei"})
	c := writeNVArchive(t, dir, "c.tar.gz", map[string]string{"md/NVRAM/NVD_IMEI/LD0B_001": "corrupt"})

	t.Run("identical", func(t *testing.T) {
		_, err := run(t, "diff", a, b)
		require.NoError(t, err)
		assert.Equal(t, exitOK, exitCode(err))
	})

	t.Run("differs", func(t *testing.T) {
		out, err := run(t, "diff", "--format", "json", a, c)
		require.Error(t, err)
		assert.Equal(t, exitFatal, exitCode(err))
		assert.Contains(t, out, `"mismatches"`)
		assert.Contains(t, out, "LD0B_001")
	})

	t.Run("wrong arg count", func(t *testing.T) {
		_, err := run(t, "diff", a)
		assert.Equal(t, exitUsage, exitCode(err))
	})
}

func TestConfigShowCommand(t *testing.T) {
	t.Setenv("NVG_DEVICE", "ABC123")

	out, err := run(t, "config", "show", "--adb", "/opt/platform-tools/adb")
	require.NoError(t, err)
	assert.Contains(t, out, "device: ABC123")
	assert.Contains(t, out, "adb: /opt/platform-tools/adb")
	assert.Contains(t, out, "# defaults only")

	out, err = run(t, "config", "show", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"device": "ABC123"`)
	assert.NotContains(t, out, "# defaults only")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "`+Version+`"`)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	_, err := run(t, "devices", "--no-such-flag")
	assert.Equal(t, exitUsage, exitCode(err))
}
