//go:build unix

package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "SER1", "repair")
	require.NoError(t, err)

	_, err = Acquire(dir, "SER1", "restore")
	require.ErrorIs(t, err, ErrLocked)
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	require.NotNil(t, locked.Info)
	assert.Equal(t, os.Getpid(), locked.Info.PID)
	assert.Equal(t, "repair", locked.Info.Command)
	assert.Contains(t, err.Error(), `running "repair"`)

	// Other devices are independent.
	other, err := Acquire(dir, "SER2", "backup")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	again, err := Acquire(dir, "SER1", "restore")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestReleaseTwiceIsHarmless(t *testing.T) {
	l, err := Acquire(t.TempDir(), "SER1", "repair")
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestPathSanitizesSerial(t *testing.T) {
	assert.Equal(t, filepath.Join("/w", "nvg-192.168.1.5_5555.lock"), Path("/w", "192.168.1.5:5555"))
	assert.Equal(t, filepath.Join("/w", "nvg-_etc_passwd.lock"), Path("/w", "/etc/passwd"))
}

func TestReadInfo(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		l, err := Acquire(dir, "SER1", "monitor")
		require.NoError(t, err)
		defer func() { _ = l.Release() }()

		info, err := ReadInfo(l.Path())
		require.NoError(t, err)
		assert.Equal(t, "SER1", info.Device)
		assert.Equal(t, "monitor", info.Command)
		assert.False(t, info.StartedAt.IsZero())
	})

	t.Run("plain pid", func(t *testing.T) {
		p := filepath.Join(dir, "old.lock")
		require.NoError(t, os.WriteFile(p, []byte("98765\n"), 0o600))
		info, err := ReadInfo(p)
		require.NoError(t, err)
		assert.Equal(t, 98765, info.PID)
	})

	t.Run("garbage", func(t *testing.T) {
		p := filepath.Join(dir, "bad.lock")
		require.NoError(t, os.WriteFile(p, []byte("not a lock"), 0o600))
		_, err := ReadInfo(p)
		require.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadInfo(filepath.Join(dir, "none.lock"))
		require.Error(t, err)
	})
}
