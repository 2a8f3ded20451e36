package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/backup"
	"github.com/steveyegge/nvguard/internal/config"
	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/diag"
	"github.com/steveyegge/nvguard/internal/ui"
)

type checkResult struct {
	Device        string          `json:"device"`
	Verdict       anomaly.Verdict `json:"verdict"`
	RepairAdvised bool            `json:"repair_advised"`
	RepairRule    anomaly.Rule    `json:"repair_rule,omitempty"`
	Snapshot      *diag.Snapshot  `json:"snapshot"`
	Backup        *bundleResult   `json:"backup,omitempty"`
	BackupSkipped bool            `json:"backup_skipped,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "diagnose",
	Short:   "Health check; back up NV state when the modem is healthy",
	Long: `Capture a snapshot and evaluate modem health.

A healthy device gets a full backup bundle immediately, so a known-good NV
copy exists before anything goes wrong. An anomalous device is reported and
left alone (exit 10); run 'nvg repair' to attempt recovery.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		snap := newCapturer(gw).Capture(ctx, serial)
		verdict := anomaly.EvaluateHealth(snap, cfg.Health.RNAThreshold)
		advised, rule := anomaly.ShouldAttemptRepair(snap)
		res := checkResult{
			Device:        serial,
			Verdict:       verdict,
			RepairAdvised: advised,
			RepairRule:    rule,
			Snapshot:      snap,
		}
		log.WithField("device", serial).WithField("anomalous", verdict.Anomalous).Debug("health evaluated")

		if verdict.Anomalous {
			if jsonOutput() {
				outputJSON(res)
			} else {
				renderSnapshot(snap)
				printLine()
				printLine(ui.CheckLine(ui.LevelFail, "anomalous", strings.Join(verdict.Strings(), ", ")))
				if advised {
					printLine(ui.CheckLine(ui.LevelWarn, "repair advised", string(rule)+": run 'nvg repair'"))
				}
				printLine(ui.RenderMuted("backup skipped: a corrupted NV state is not worth preserving"))
			}
			return exitWith(exitAnomalies, nil)
		}

		var bundle *backup.Bundle
		if noBackup {
			res.BackupSkipped = true
		} else {
			if err := device.RequireRoot(ctx, gw, serial); err != nil {
				return err
			}
			lock, err := lockDevice(serial, "check")
			if err != nil {
				return err
			}
			defer releaseLock(lock)
			bundle, err = runBackup(ctx, gw, serial)
			if err != nil {
				return err
			}
			br := newBundleResult(bundle)
			res.Backup = &br
		}

		if jsonOutput() {
			outputJSON(res)
			return nil
		}
		renderSnapshot(snap)
		printLine()
		printLine(ui.CheckLine(ui.LevelPass, "healthy", "no anomalies"))
		if bundle != nil {
			printLine()
			renderBundle(bundle)
		}
		return nil
	},
}

func init() {
	f := checkCmd.Flags()
	f.Int("rna-threshold", 5, "RADIO_NOT_AVAILABLE count that counts as anomalous")
	f.Bool("no-backup", false, "Do not back up a healthy device")
	config.BindFlag(f, "rna-threshold", "health.rna-threshold")
	bindBackupFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}
