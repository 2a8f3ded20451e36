package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "device.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestProfileOverridesPartitionsAndAreas(t *testing.T) {
	t.Chdir(t.TempDir())
	p := writeProfile(t, `
name = "mt6762"
partitions = ["nvram", "nvdata"]
nv_areas = ["/vendor/nvdata"]
remote_tmp = "/sdcard/nvg"
`)
	t.Setenv("NVG_PROFILE", p)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "mt6762", cfg.ProfileName)
	assert.Equal(t, []string{"nvram", "nvdata"}, cfg.Backup.Partitions)
	assert.Equal(t, []string{"/vendor/nvdata"}, cfg.NVAreas())
	assert.Equal(t, "/sdcard/nvg", cfg.RemoteTmp)
}

func TestProfilePartialKeepsDefaults(t *testing.T) {
	prof, err := LoadProfile(writeProfile(t, `partitions = ["proinfo"]`))
	require.NoError(t, err)

	cfg := &Config{NV: NVConfig{Primary: "/mnt/vendor/nvdata", Secondary: "/mnt/vendor/nvcfg"}, RemoteTmp: "/data/local/tmp"}
	cfg.ApplyProfile(prof)
	assert.Equal(t, []string{"proinfo"}, cfg.Backup.Partitions)
	assert.Equal(t, []string{"/mnt/vendor/nvdata", "/mnt/vendor/nvcfg"}, cfg.NVAreas())
	assert.Equal(t, "/data/local/tmp", cfg.RemoteTmp)
	assert.NotEmpty(t, cfg.ProfileName)
}

func TestProfileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "partitons = [\"nvram\"]\n"},
		{"too many areas", "nv_areas = [\"/a\", \"/b\", \"/c\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(writeProfile(t, tt.body))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := LoadProfile(writeProfile(t, "name = \n"))
	require.Error(t, err)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
