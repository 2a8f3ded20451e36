package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/nvguard/internal/clock"
	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/diag"
)

// StampLayout names bundle directories and NV archives.
const StampLayout = "20060102-150405"

// DefaultDumpTimeout bounds a single partition dump.
const DefaultDumpTimeout = 10 * time.Minute

// DefaultPartitions are the modem-related partitions worth keeping.
var DefaultPartitions = []string{"md1img", "nvram", "nvdata", "nvcfg", "protect1", "protect2", "proinfo"}

// DefaultNVAreas are the on-device NV directories archived into nv/.
var DefaultNVAreas = []string{"/mnt/vendor/nvdata", "/mnt/vendor/nvcfg"}

// ByNameDirs are searched in order for partition nodes.
var ByNameDirs = []string{
	"/dev/block/by-name",
	"/dev/block/bootdevice/by-name",
	"/dev/block/platform/*/by-name",
	"/dev/block/platform/*/*/by-name",
}

// Builder gathers a backup bundle from one device.
type Builder struct {
	Gateway     device.Gateway
	Log         logrus.FieldLogger
	Clock       clock.Clock
	DumpTimeout time.Duration
	NVAreas     []string
	RemoteTmp   string
	// Progress receives a progress bar per partition dump; nil disables it.
	Progress io.Writer
}

// NewBuilder returns a Builder with default timeouts and NV areas.
func NewBuilder(gw device.Gateway, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{
		Gateway:     gw,
		Log:         log,
		Clock:       clock.Real{},
		DumpTimeout: DefaultDumpTimeout,
		NVAreas:     DefaultNVAreas,
		RemoteTmp:   "/data/local/tmp",
	}
}

// NewBundleDir returns a fresh timestamped bundle directory path under root.
func NewBundleDir(root string, now time.Time) string {
	return filepath.Join(root, "backup-"+now.Format(StampLayout))
}

// Build fills dir with a bundle. dir may hold an interrupted earlier run:
// existing non-empty images and NV archives are kept and not re-fetched.
// Only local filesystem errors are returned; device-side failures become
// warnings.
func (b *Builder) Build(ctx context.Context, id string, partitions []string, dir string) (*Bundle, error) {
	for _, sub := range []string{PartsDir, NVDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating bundle directory: %w", err)
		}
	}

	stamp := b.Clock.Now().Format(StampLayout)
	bundle := &Bundle{Dir: dir}
	log := b.Log.WithField("device", id)

	for _, name := range partitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.dumpPartition(ctx, id, name, dir, bundle, log.WithField("partition", name))
	}

	for _, area := range b.NVAreas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.archiveNV(ctx, id, area, dir, stamp, bundle, log.WithField("area", area))
	}

	if err := b.writeProperties(ctx, id, dir, bundle); err != nil {
		return nil, err
	}

	m, err := scanManifest(dir, id, stamp)
	if err != nil {
		return nil, fmt.Errorf("scanning bundle: %w", err)
	}
	bundle.Manifest = m
	if err := writeManifest(dir, m); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := writeChecksums(dir); err != nil {
		return nil, fmt.Errorf("writing checksums: %w", err)
	}

	log.WithFields(logrus.Fields{
		"partitions": len(m.Partitions),
		"archives":   len(m.NVArchives),
		"size":       humanize.IBytes(uint64(bundle.TotalSize())), //nolint:gosec // sizes are non-negative
	}).Info("backup bundle written")
	return bundle, nil
}

func (b *Builder) warn(bundle *Bundle, log logrus.FieldLogger, msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	bundle.Warnings = append(bundle.Warnings, msg)
	log.Warn(msg)
}

func existsNonEmpty(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ResolvePartition finds name under the by-name directories. An empty
// result means the device has no such partition.
func ResolvePartition(ctx context.Context, gw device.Gateway, id, name string) (string, error) {
	candidates := make([]string, len(ByNameDirs))
	for i, d := range ByNameDirs {
		candidates[i] = d + "/" + name
	}
	// ls exits non-zero when any glob misses, so only the output counts.
	res, err := gw.PrivilegedShell(ctx, id, "ls -1d "+strings.Join(candidates, " ")+" 2>/dev/null")
	if err != nil {
		return "", err
	}
	for _, line := range res.Lines() {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/dev/block/") && path.Base(line) == name {
			return line, nil
		}
	}
	return "", nil
}

func (b *Builder) dumpPartition(ctx context.Context, id, name, dir string, bundle *Bundle, log logrus.FieldLogger) {
	file := filepath.Join(dir, PartsDir, name+".img")
	if existsNonEmpty(file) {
		log.Info("partition image already present, skipping")
		bundle.Resumed = append(bundle.Resumed, PartsDir+"/"+name+".img")
		return
	}

	node, err := ResolvePartition(ctx, b.Gateway, id, name)
	if err != nil {
		b.warn(bundle, log, "resolving "+name, err)
		return
	}
	if node == "" {
		log.Info("partition not present on device, skipping")
		bundle.Skipped = append(bundle.Skipped, name)
		return
	}

	size := b.partitionSize(ctx, id, node)
	f, err := os.Create(file) //nolint:gosec // bundle path
	if err != nil {
		b.warn(bundle, log, "creating "+file, err)
		return
	}

	var w io.Writer = f
	var bar *progressbar.ProgressBar
	if b.Progress != nil {
		bar = newDumpBar(b.Progress, size, name)
		w = io.MultiWriter(f, bar)
	}

	dumpCtx, cancel := context.WithTimeout(ctx, b.DumpTimeout)
	dumpErr := b.Gateway.ExecOut(dumpCtx, id, fmt.Sprintf("dd if=%s bs=4M 2>/dev/null", device.ShellQuote(node)), w)
	if errors.Is(dumpCtx.Err(), context.DeadlineExceeded) && dumpErr == nil {
		dumpErr = dumpCtx.Err()
	}
	cancel()
	if bar != nil {
		_ = bar.Finish()
	}
	closeErr := f.Close()
	if dumpErr == nil {
		dumpErr = closeErr
	}

	written := int64(0)
	if info, err := os.Stat(file); err == nil {
		written = info.Size()
	}

	switch {
	case written == 0:
		_ = os.Remove(file)
		if dumpErr == nil {
			dumpErr = errors.New("empty image")
		}
		b.warn(bundle, log, "dump of "+name+" produced nothing, discarded", dumpErr)
	case dumpErr != nil:
		msg := fmt.Sprintf("partial dump of %s kept (%s)", name, humanize.IBytes(uint64(written))) //nolint:gosec // non-negative
		b.warn(bundle, log, msg, dumpErr)
		logFile := filepath.Join(dir, PartsDir, name+".log")
		_ = os.WriteFile(logFile, []byte(fmt.Sprintf("%s\nnode: %s\nbytes: %d\nerror: %v\n", msg, node, written, dumpErr)), 0o600)
	case size > 0 && written != size:
		b.warn(bundle, log, fmt.Sprintf("dump of %s is %d bytes, device reports %d", name, written, size), nil)
	default:
		log.WithField("size", humanize.IBytes(uint64(written))).Info("partition dumped") //nolint:gosec // non-negative
	}
}

// partitionSize returns the node size in bytes, or -1 when unknown.
func (b *Builder) partitionSize(ctx context.Context, id, node string) int64 {
	res, err := b.Gateway.PrivilegedShell(ctx, id, "blockdev --getsize64 "+device.ShellQuote(node))
	if err != nil || !res.OK() {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil || n <= 0 {
		return -1
	}
	return n
}

func (b *Builder) archiveNV(ctx context.Context, id, area, dir, stamp string, bundle *Bundle, log logrus.FieldLogger) {
	base := path.Base(area)
	prior, _ := filepath.Glob(filepath.Join(dir, NVDir, base+"_*.tar.gz"))
	for _, p := range prior {
		if existsNonEmpty(p) {
			log.WithField("file", filepath.Base(p)).Info("NV archive already present, skipping")
			bundle.Resumed = append(bundle.Resumed, NVDir+"/"+filepath.Base(p))
			return
		}
	}

	name := fmt.Sprintf("%s_%s.tar.gz", base, stamp)
	remote := path.Join(b.RemoteTmp, "nvg_"+name)
	local := filepath.Join(dir, NVDir, name)

	cmd := fmt.Sprintf("tar -czf %s -C %s %s",
		device.ShellQuote(remote), device.ShellQuote(path.Dir(area)), device.ShellQuote(base))
	res, err := b.Gateway.PrivilegedShell(ctx, id, cmd)
	if _, err := device.MustSucceed(id, cmd, res, err); err != nil {
		b.warn(bundle, log, "archiving "+area, err)
	}
	if err := b.Gateway.Pull(ctx, id, remote, local); err != nil {
		b.warn(bundle, log, "pulling "+area+" archive", err)
	}
	_, _ = b.Gateway.PrivilegedShell(ctx, id, "rm -f "+device.ShellQuote(remote))

	if !existsNonEmpty(local) {
		_ = os.Remove(local)
	}
}

func (b *Builder) writeProperties(ctx context.Context, id, dir string, bundle *Bundle) error {
	c := diag.NewCapturer(b.Gateway, 0, b.Log)
	c.Clock = b.Clock
	snap := c.CaptureProperties(ctx, id)
	bundle.Warnings = append(bundle.Warnings, snap.Warnings...)
	if err := os.WriteFile(filepath.Join(dir, FocusFile), []byte(snap.FocusText()), 0o600); err != nil {
		return err
	}

	all := ""
	if res, err := b.Gateway.Shell(ctx, id, "getprop"); err != nil {
		b.warn(bundle, b.Log.WithField("device", id), "getprop", err)
	} else {
		all = res.Stdout
	}
	return os.WriteFile(filepath.Join(dir, AllPropsFile), []byte(all), 0o600)
}

func newDumpBar(w io.Writer, size int64, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionUseIECUnits(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetDescription(name),
		progressbar.OptionClearOnFinish(),
	)
}
