package backup

import (
	"context"
	"os"
	"path/filepath"
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

var (
	md1Image   = []byte(strings.Repeat("MD1", 1000))
	nvramImage = []byte(strings.Repeat("\x00NV", 500))
)

func byName(name string) string { return "/dev/block/by-name/" + name }

func newDevice() *fakegw.Gateway {
	gw := fakegw.New(serial)
	gw.Props["vendor.ril.md_status_from_ccci"] = "ready"
	gw.Props["gsm.sim.state"] = "LOADED"
	for _, p := range []string{"md1img", "nvram"} {
		gw.AddRule("ls -1d "+byName(p)+" ", device.Result{Stdout: byName(p) + "\n", ExitCode: 2}, nil)
	}
	gw.Streams[byName("md1img")] = md1Image
	gw.Streams[byName("nvram")] = nvramImage
	return gw
}

func newTestBuilder(gw device.Gateway) *Builder {
	log, _ := logtest.NewNullLogger()
	b := NewBuilder(gw, log)
	b.Clock = clock.NewFake(time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC))
	b.DumpTimeout = time.Minute
	return b
}

func dumped(gw *fakegw.Gateway, name string) int {
	n := 0
	for _, c := range gw.Calls {
		if c.Op == "execout" && strings.Contains(c.Command, byName(name)) {
			n++
		}
	}
	return n
}

func TestBuildWritesBundle(t *testing.T) {
	gw := newDevice()
	dir := t.TempDir()

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, []string{"md1img", "nvram", "protect1"}, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"protect1"}, bundle.Skipped)
	assert.Empty(t, bundle.Warnings)

	m := bundle.Manifest
	assert.Equal(t, serial, m.Device)
	assert.Equal(t, "20261002-083000", m.Timestamp)
	assert.Equal(t, []PartitionEntry{
		{Name: "md1img", File: "parts/md1img.img", Size: int64(len(md1Image))},
		{Name: "nvram", File: "parts/nvram.img", Size: int64(len(nvramImage))},
	}, m.Partitions)
	require.Len(t, m.NVArchives, 2)
	assert.Equal(t, "nv/nvcfg_20261002-083000.tar.gz", m.NVArchives[0].File)
	assert.Equal(t, "nv/nvdata_20261002-083000.tar.gz", m.NVArchives[1].File)

	img, err := os.ReadFile(filepath.Join(dir, "parts", "md1img.img"))
	require.NoError(t, err)
	assert.Equal(t, md1Image, img)

	focus, err := os.ReadFile(filepath.Join(dir, FocusFile))
	require.NoError(t, err)
	assert.Contains(t, string(focus), "gsm.sim.state=LOADED")
	assert.FileExists(t, filepath.Join(dir, AllPropsFile))

	// The remote staging archive is always cleaned up.
	assert.True(t, gw.Ran("rm -f '/data/local/tmp/nvg_nvdata_20261002-083000.tar.gz'"))

	problems, err := Verify(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestChecksumsAreSortedAndCoverEverything(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestBuilder(newDevice()).Build(context.Background(), serial, []string{"md1img"}, dir)
	require.NoError(t, err)

	order, _, err := ReadChecksums(dir)
	require.NoError(t, err)
	assert.IsIncreasing(t, order)
	assert.NotContains(t, order, SumsFile)
	assert.Contains(t, order, ManifestFile)
	assert.Contains(t, order, "parts/md1img.img")
	assert.Contains(t, order, FocusFile)
}

func TestBuildResumesExistingImage(t *testing.T) {
	gw := newDevice()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, PartsDir), 0o750))
	previous := []byte("earlier run")
	require.NoError(t, os.WriteFile(filepath.Join(dir, PartsDir, "md1img.img"), previous, 0o600))

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, []string{"md1img", "nvram"}, dir)
	require.NoError(t, err)

	assert.Zero(t, dumped(gw, "md1img"))
	assert.Equal(t, 1, dumped(gw, "nvram"))
	assert.Contains(t, bundle.Resumed, "parts/md1img.img")

	img, err := os.ReadFile(filepath.Join(dir, PartsDir, "md1img.img"))
	require.NoError(t, err)
	assert.Equal(t, previous, img)

	problems, err := Verify(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestBuildReplacesEmptyLeftover(t *testing.T) {
	gw := newDevice()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, PartsDir), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PartsDir, "md1img.img"), nil, 0o600))

	_, err := newTestBuilder(gw).Build(context.Background(), serial, []string{"md1img"}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, dumped(gw, "md1img"))
}

func TestBuildResumesNVArchive(t *testing.T) {
	gw := newDevice()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, NVDir), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, NVDir, "nvdata_20200101-000000.tar.gz"), []byte("gz"), 0o600))

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, nil, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Count("pull"))
	assert.Contains(t, bundle.Resumed, "nv/nvdata_20200101-000000.tar.gz")
	assert.Len(t, bundle.Manifest.NVArchives, 2)
}

func TestBuildDiscardsEmptyFailedDump(t *testing.T) {
	gw := newDevice()
	delete(gw.Streams, byName("nvram"))
	gw.StreamErrs[byName("nvram")] = context.DeadlineExceeded
	dir := t.TempDir()

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, []string{"nvram"}, dir)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, PartsDir, "nvram.img"))
	assert.Empty(t, bundle.Manifest.Partitions)
	require.Len(t, bundle.Warnings, 1)
	assert.Contains(t, bundle.Warnings[0], "discarded")
}

func TestBuildKeepsPartialDump(t *testing.T) {
	gw := newDevice()
	gw.StreamErrs[byName("md1img")] = &device.CommandError{Device: serial, Command: "dd", ExitCode: 1, Stderr: "I/O error"}
	dir := t.TempDir()

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, []string{"md1img"}, dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, PartsDir, "md1img.img"))
	logData, err := os.ReadFile(filepath.Join(dir, PartsDir, "md1img.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "I/O error")
	require.Len(t, bundle.Manifest.Partitions, 1)
	require.Len(t, bundle.Warnings, 1)
	assert.Contains(t, bundle.Warnings[0], "partial dump of md1img kept")

	problems, err := Verify(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestBuildNVPullFailureIsWarning(t *testing.T) {
	gw := newDevice()
	gw.FailPull = []string{"nvcfg"}
	dir := t.TempDir()

	bundle, err := newTestBuilder(gw).Build(context.Background(), serial, nil, dir)
	require.NoError(t, err)

	require.Len(t, bundle.Manifest.NVArchives, 1)
	assert.Contains(t, bundle.Manifest.NVArchives[0].File, "nvdata_")
	require.Len(t, bundle.Warnings, 1)
	assert.Contains(t, bundle.Warnings[0], "pulling /mnt/vendor/nvcfg archive")
}

func TestManifestMatchesFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	bundle, err := newTestBuilder(newDevice()).Build(context.Background(), serial, []string{"md1img", "nvram"}, dir)
	require.NoError(t, err)

	onDisk, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, bundle.Manifest, onDisk)

	for _, p := range onDisk.Partitions {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p.File)))
		require.NoError(t, err)
		assert.Equal(t, p.Size, info.Size(), p.Name)
		assert.True(t, strings.HasPrefix(p.File, PartsDir+"/"))
	}
}

func TestResolvePartitionPicksMatchingNode(t *testing.T) {
	gw := fakegw.New(serial)
	gw.AddRule("ls -1d", device.Result{
		Stdout:   "ls: /dev/block/by-name/boot_a: No such file or directory\r\n/dev/block/platform/soc/11270000.ufshci/by-name/boot_a\r\n",
		ExitCode: 1,
	}, nil)

	node, err := ResolvePartition(context.Background(), gw, serial, "boot_a")
	require.NoError(t, err)
	assert.Equal(t, "/dev/block/platform/soc/11270000.ufshci/by-name/boot_a", node)

	missing := fakegw.New(serial)
	node, err = ResolvePartition(context.Background(), missing, serial, "boot_a")
	require.NoError(t, err)
	assert.Empty(t, node)
}
