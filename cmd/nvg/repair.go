package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/config"
	"github.com/steveyegge/nvguard/internal/recovery"
	"github.com/steveyegge/nvguard/internal/ui"
)

var repairCmd = &cobra.Command{
	Use:     "repair",
	GroupID: "repair",
	Short:   "Isolate corrupted NV directories and let the modem regenerate them",
	Long: `Attempt automated recovery from NV corruption.

nvg captures a full snapshot and only proceeds when a corruption signature
matches (SIM absent/unknown with the modem down, or the MUX/CCCI failure
pattern in the radio log). It then archives the NV directories, renames them
aside, reboots, and polls until the modem reports ready with a usable SIM.

Every step is recorded in <work-dir>/repair-<stamp>/session.json together
with the exact commands that undo the isolation.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		if !dryRun {
			lock, err := lockDevice(serial, "repair")
			if err != nil {
				return err
			}
			defer releaseLock(lock)
		}

		m := recovery.New(gw, newCapturer(gw), recovery.Options{
			WorkRoot:        cfg.WorkDir,
			PrimaryNV:       cfg.NV.Primary,
			SecondaryNV:     cfg.NV.Secondary,
			RemoteTmp:       cfg.RemoteTmp,
			MaxPollAttempts: cfg.Recovery.MaxPollAttempts,
			PollInterval:    cfg.Recovery.PollInterval,
			RebootGrace:     cfg.Recovery.RebootGrace,
			SettleDelay:     cfg.Recovery.SettleDelay,
			DryRun:          dryRun,
		}, log)
		if !yes && !dryRun {
			m.Confirm = confirmIsolation
		}

		s, err := m.Run(ctx, serial)
		if s == nil {
			return err
		}
		if jsonOutput() {
			outputJSON(s)
		} else {
			renderSession(s, dryRun)
		}
		if err != nil {
			return err
		}
		if s.State == recovery.StateFailed {
			return exitWith(exitNotRecovered, nil)
		}
		return nil
	},
}

var repairStatusCmd = &cobra.Command{
	Use:   "status <session-dir>",
	Short: "Show the outcome and rollback commands of an earlier repair",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := recovery.LoadSession(args[0])
		if err != nil {
			return withHint(err, "pass a repair-<stamp> directory from the work dir")
		}
		if jsonOutput() {
			outputJSON(s)
			return nil
		}
		renderSession(s, false)
		return nil
	},
}

// confirmIsolation asks before the first change on the device. Without a
// terminal there is nobody to ask, so the answer is no.
func confirmIsolation(s *recovery.Session) bool {
	if !ui.IsTerminal() {
		WarnError("stdin is not a terminal; pass --yes to isolate NV without confirmation")
		return false
	}
	proceed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Corruption signature %q on %s. Isolate NV and reboot?", s.Rule, s.Device)).
				Description("NV directories are archived and renamed aside; the modem rebuilds them on boot.").
				Affirmative("Isolate").
				Negative("Cancel").
				Value(&proceed),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if !errors.Is(err, huh.ErrUserAborted) {
			WarnError("confirmation prompt: %v", err)
		}
		return false
	}
	return proceed
}

func renderSession(s *recovery.Session, dryRun bool) {
	printLine(ui.RenderHeader("repair " + s.ID))
	printLine(ui.CheckLine(ui.LevelInfo, "device", s.Device))
	printLine(ui.CheckLine(ui.LevelInfo, "state", ui.RenderState(string(s.State))))
	if s.Rule != "" {
		printLine(ui.CheckLine(ui.LevelInfo, "signature", s.Rule))
	}
	switch {
	case dryRun && s.State == recovery.StateMatched:
		printLine(ui.CheckLine(ui.LevelWarn, "dry run", "repair would proceed; nothing on the device was changed"))
	case s.State == recovery.StateNotMatched:
		printLine(ui.CheckLine(ui.LevelPass, "no action", "no NV corruption signature, device left untouched"))
	case s.State == recovery.StateRecovered:
		printLine(ui.CheckLine(ui.LevelPass, "recovered", fmt.Sprintf("after %d poll(s)", s.PollAttempts)))
	case s.State == recovery.StateFailed:
		printLine(ui.CheckLine(ui.LevelFail, "not recovered", fmt.Sprintf("after %d poll(s)", s.PollAttempts)))
	}
	for _, d := range s.Isolated {
		printLine(ui.CheckLine(ui.LevelInfo, "isolated", d.Original+" -> "+d.Renamed))
	}
	for _, a := range s.KnownGoodArchive {
		printLine(ui.CheckLine(ui.LevelInfo, "known-good archive", a))
	}
	for _, w := range s.Warnings {
		printLine(ui.CheckLine(ui.LevelWarn, w.Step, w.Message))
	}
	if s.Error != "" {
		printLine(ui.CheckLine(ui.LevelFail, "error", s.Error))
	}
	if len(s.Rollback) > 0 {
		printLine()
		printLine(ui.RenderHeader("rollback"))
		for _, c := range s.Rollback {
			printLine(ui.DetailLine(c))
		}
	}
	if !s.FinishedAt.IsZero() {
		printLine(ui.RenderMuted(fmt.Sprintf("took %s, record in %s",
			s.FinishedAt.Sub(s.StartedAt).Round(time.Second), filepath.Join(s.WorkDir, recovery.SessionFile))))
	}
}

func init() {
	f := repairCmd.Flags()
	f.BoolP("yes", "y", false, "Isolate without asking for confirmation")
	f.Bool("dry-run", false, "Capture and decide only; never change the device")
	f.Int("max-poll-attempts", 24, "Post-reboot health polls before giving up")
	f.Duration("poll-interval", 5*time.Second, "Time between post-reboot polls")
	config.BindFlag(f, "max-poll-attempts", "recovery.max-poll-attempts")
	config.BindFlag(f, "poll-interval", "recovery.poll-interval")
	repairCmd.AddCommand(repairStatusCmd)
	rootCmd.AddCommand(repairCmd)
}
