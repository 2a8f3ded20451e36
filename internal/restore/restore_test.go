package restore

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/testutil/fakegw"
)

const serial = "SER1"

func nvArchive(t *testing.T, names ...string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, n := range names {
		if strings.HasSuffix(n, "/") {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: n, Mode: 0o755, Typeflag: tar.TypeDir}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: n, Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte("nv"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	p := filepath.Join(t.TempDir(), "nvdata_known_good_20261001-101500.tar.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func newTestStager(gw device.Gateway) *Stager {
	log, _ := logtest.NewNullLogger()
	s := NewStager(gw, log)
	s.Clock = clock.NewFake(time.Date(2026, 10, 4, 12, 0, 0, 0, time.UTC))
	return s
}

func sizeOf(t *testing.T, p string) string {
	info, err := os.Stat(p)
	require.NoError(t, err)
	return strconv.FormatInt(info.Size(), 10)
}

func TestStagePushesAndVerifiesSize(t *testing.T) {
	archive := nvArchive(t, "nvdata/", "nvdata/md/NVRAM", "nvdata/APCFG/a")
	gw := fakegw.New(serial)
	gw.AddRule("stat -c", device.Result{Stdout: sizeOf(t, archive) + "\n"}, nil)

	staged, err := newTestStager(gw).Stage(context.Background(), serial, archive)
	require.NoError(t, err)

	assert.Equal(t, "/data/local/tmp/nvg_restore_nvdata_known_good_20261001-101500.tar.gz", staged.Remote)
	assert.Equal(t, "nvdata", staged.Root)
	want, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.Equal(t, want, gw.Files[staged.Remote])
}

func TestStageSizeMismatch(t *testing.T) {
	archive := nvArchive(t, "nvdata/a")
	gw := fakegw.New(serial)
	gw.AddRule("stat -c", device.Result{Stdout: "12\n"}, nil)

	_, err := newTestStager(gw).Stage(context.Background(), serial, archive)
	require.ErrorIs(t, err, ErrStageFailed)
}

func TestStageRejectsMixedRoots(t *testing.T) {
	archive := nvArchive(t, "nvdata/a", "nvcfg/b")
	gw := fakegw.New(serial)

	_, err := newTestStager(gw).Stage(context.Background(), serial, archive)
	require.ErrorIs(t, err, ErrArchiveMismatch)
	assert.Zero(t, gw.Count("push"))
}

func staged() *Staged {
	return &Staged{Remote: "/data/local/tmp/nvg_restore_x.tar.gz", Root: "nvdata", Size: 10}
}

func TestApplyReplacesAreaAndReboots(t *testing.T) {
	gw := fakegw.New(serial)

	applied, err := newTestStager(gw).Apply(context.Background(), serial, staged(), "/mnt/vendor/nvdata", true)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/vendor/nvdata.pre_restore_20261004-120000", applied.Previous)
	assert.True(t, applied.Rebooted)

	mut := gw.Mutations()
	require.Len(t, mut, 3)
	assert.Equal(t, "mv '/mnt/vendor/nvdata' '/mnt/vendor/nvdata.pre_restore_20261004-120000'", mut[0].Command)
	assert.Equal(t, "tar -xzf '/data/local/tmp/nvg_restore_x.tar.gz' -C '/mnt/vendor'", mut[1].Command)
	assert.Equal(t, "reboot", mut[2].Op)
	assert.True(t, gw.Ran("rm -f '/data/local/tmp/nvg_restore_x.tar.gz'"))
}

func TestApplyRejectsWrongArea(t *testing.T) {
	gw := fakegw.New(serial)
	_, err := newTestStager(gw).Apply(context.Background(), serial, staged(), "/mnt/vendor/nvcfg", false)
	require.ErrorIs(t, err, ErrArchiveMismatch)
	assert.Empty(t, gw.Mutations())
}

func TestApplyMoveFailureStopsEarly(t *testing.T) {
	gw := fakegw.New(serial)
	gw.AddRule("mv '/mnt/vendor/nvdata'", device.Result{ExitCode: 1}, nil)

	_, err := newTestStager(gw).Apply(context.Background(), serial, staged(), "/mnt/vendor/nvdata", true)
	require.ErrorIs(t, err, ErrApplyFailed)
	assert.False(t, gw.Ran("tar -xzf"))
	assert.Zero(t, gw.Count("reboot"))
}

func TestApplyExtractFailureRollsBack(t *testing.T) {
	gw := fakegw.New(serial)
	gw.AddRule("tar -xzf", device.Result{ExitCode: 2, Stdout: "gzip: invalid magic"}, nil)

	_, err := newTestStager(gw).Apply(context.Background(), serial, staged(), "/mnt/vendor/nvdata", true)
	require.ErrorIs(t, err, ErrApplyFailed)
	require.ErrorIs(t, err, device.ErrCommandFailed)
	assert.True(t, gw.Ran("rm -rf '/mnt/vendor/nvdata'; mv '/mnt/vendor/nvdata.pre_restore_20261004-120000' '/mnt/vendor/nvdata'"))
	assert.Zero(t, gw.Count("reboot"))
}

func TestApplyRequiresRoot(t *testing.T) {
	gw := fakegw.New(serial)
	gw.Root = false
	_, err := newTestStager(gw).Apply(context.Background(), serial, staged(), "/mnt/vendor/nvdata", false)
	require.ErrorIs(t, err, device.ErrNoRoot)
	assert.Empty(t, gw.Mutations())
}
