package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/backup"
	"github.com/steveyegge/nvguard/internal/config"
	"github.com/steveyegge/nvguard/internal/debug"
	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/ui"
)

// bundleResult is the JSON shape of a finished backup.
type bundleResult struct {
	Dir       string          `json:"dir"`
	Manifest  backup.Manifest `json:"manifest"`
	TotalSize int64           `json:"total_size"`
	Resumed   []string        `json:"resumed,omitempty"`
	Skipped   []string        `json:"skipped,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

func newBundleResult(b *backup.Bundle) bundleResult {
	return bundleResult{
		Dir:       b.Dir,
		Manifest:  b.Manifest,
		TotalSize: b.TotalSize(),
		Resumed:   b.Resumed,
		Skipped:   b.Skipped,
		Warnings:  b.Warnings,
	}
}

// runBackup builds a bundle into backup.resume-dir, or a fresh timestamped
// directory under the work dir.
func runBackup(ctx context.Context, gw device.Gateway, serial string) (*backup.Bundle, error) {
	b := backup.NewBuilder(gw, log)
	b.DumpTimeout = cfg.Backup.DumpTimeout
	b.NVAreas = cfg.NVAreas()
	b.RemoteTmp = cfg.RemoteTmp
	if ui.IsStderrTerminal() && !debug.IsQuiet() && !jsonOutput() {
		b.Progress = os.Stderr
	}

	dir := cfg.Backup.ResumeDir
	if dir == "" {
		dir = backup.NewBundleDir(cfg.WorkDir, time.Now())
	}
	return b.Build(ctx, serial, cfg.Backup.Partitions, dir)
}

func renderBundle(b *backup.Bundle) {
	printLine(ui.RenderHeader("backup " + b.Dir))
	for _, p := range b.Manifest.Partitions {
		printLine(ui.CheckLine(ui.LevelPass, p.Name, humanize.IBytes(uint64(p.Size)))) //nolint:gosec // sizes are non-negative
	}
	for _, a := range b.Manifest.NVArchives {
		printLine(ui.CheckLine(ui.LevelPass, a.File, humanize.IBytes(uint64(a.Size)))) //nolint:gosec // sizes are non-negative
	}
	for _, s := range b.Skipped {
		printLine(ui.CheckLine(ui.LevelSkip, s, "no by-name node on device"))
	}
	for _, r := range b.Resumed {
		printLine(ui.CheckLine(ui.LevelInfo, r, "kept from earlier run"))
	}
	for _, w := range b.Warnings {
		printLine(ui.CheckLine(ui.LevelWarn, "warning", w))
	}
	printf("%s total, %d partition(s), %d NV archive(s)\n",
		humanize.IBytes(uint64(b.TotalSize())), len(b.Manifest.Partitions), len(b.Manifest.NVArchives)) //nolint:gosec // sizes are non-negative
}

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "protect",
	Short:   "Dump modem partitions and archive NV directories into a bundle",
	Long: `Build a backup bundle: raw images of the modem-related partitions,
tar.gz archives of the NV directories, property snapshots, manifest.json and
SHA256SUMS.

Re-running with --resume-dir pointing at an interrupted bundle keeps every
non-empty image and archive already there and only fetches what is missing.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		if err := device.RequireRoot(ctx, gw, serial); err != nil {
			return err
		}
		lock, err := lockDevice(serial, "backup")
		if err != nil {
			return err
		}
		defer releaseLock(lock)

		bundle, err := runBackup(ctx, gw, serial)
		if err != nil {
			return err
		}
		if jsonOutput() {
			outputJSON(newBundleResult(bundle))
			return nil
		}
		renderBundle(bundle)
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <bundle-dir>",
	Short: "Re-hash a bundle against SHA256SUMS and check manifest sizes",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		problems, err := backup.Verify(args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			if problems == nil {
				problems = []backup.Problem{}
			}
			outputJSON(map[string]interface{}{"dir": args[0], "ok": len(problems) == 0, "problems": problems})
		} else {
			for _, p := range problems {
				printLine(ui.CheckLine(ui.LevelFail, p.Path, p.Message))
			}
			if len(problems) == 0 {
				printLine(ui.CheckLine(ui.LevelPass, args[0], "all checksums and sizes match"))
			}
		}
		if len(problems) > 0 {
			return exitWith(exitFatal, fmt.Errorf("%d problem(s) in %s", len(problems), args[0]))
		}
		return nil
	},
}

// bindBackupFlags registers the backup tuning flags on cmd.
func bindBackupFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("partitions", nil, "Partitions to dump (default: md1img,nvram,nvdata,nvcfg,protect1,protect2,proinfo)")
	f.String("resume-dir", "", "Resume an interrupted bundle in this directory")
	f.Duration("dump-timeout", 10*time.Minute, "Timeout per partition dump")
	config.BindFlag(f, "partitions", "backup.partitions")
	config.BindFlag(f, "resume-dir", "backup.resume-dir")
	config.BindFlag(f, "dump-timeout", "backup.dump-timeout")
}

func init() {
	bindBackupFlags(backupCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	rootCmd.AddCommand(backupCmd)
}
