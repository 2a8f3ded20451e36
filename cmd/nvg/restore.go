package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/restore"
	"github.com/steveyegge/nvguard/internal/ui"
)

type restoreResult struct {
	Device  string           `json:"device"`
	Staged  *restore.Staged  `json:"staged"`
	Applied *restore.Applied `json:"applied,omitempty"`
}

var restoreCmd = &cobra.Command{
	Use:     "restore <nv-archive>",
	GroupID: "repair",
	Short:   "Put a known-good NV archive back onto the device",
	Long: `Push a tar.gz NV archive (from 'nvg backup' or a repair session) to the
device, move the live NV area aside to <area>.pre_restore_<stamp>, and
extract the archive in its place.

The archive's top-level directory must match the target area's name.
--stage-only pushes and verifies the archive without touching the area.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, _ := cmd.Flags().GetString("area")
		reboot, _ := cmd.Flags().GetBool("reboot")
		yes, _ := cmd.Flags().GetBool("yes")
		stageOnly, _ := cmd.Flags().GetBool("stage-only")
		if area == "" {
			area = cfg.NV.Primary
		}

		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		lock, err := lockDevice(serial, "restore")
		if err != nil {
			return err
		}
		defer releaseLock(lock)

		st := restore.NewStager(gw, log)
		st.RemoteTmp = cfg.RemoteTmp
		staged, err := st.Stage(ctx, serial, args[0])
		if err != nil {
			return err
		}
		res := restoreResult{Device: serial, Staged: staged}
		printLine(ui.CheckLine(ui.LevelPass, "staged", staged.Remote))

		if !stageOnly {
			if !yes && !confirmRestore(serial, area, args[0]) {
				return exitWith(exitFatal, errors.New("restore cancelled; archive left staged at "+staged.Remote))
			}
			applied, err := st.Apply(ctx, serial, staged, area, reboot)
			if err != nil {
				return err
			}
			res.Applied = applied
			printLine(ui.CheckLine(ui.LevelPass, "restored", applied.Area))
			printLine(ui.CheckLine(ui.LevelInfo, "previous contents", applied.Previous))
			if applied.Rebooted {
				printLine(ui.CheckLine(ui.LevelInfo, "reboot", "requested; run 'nvg check' once the device is back"))
			} else {
				printLine(ui.RenderMuted("reboot the device for the modem to load the restored NV"))
			}
		}
		if jsonOutput() {
			outputJSON(res)
		}
		return nil
	},
}

func confirmRestore(serial, area, archive string) bool {
	if !ui.IsTerminal() {
		WarnError("stdin is not a terminal; pass --yes to restore without confirmation")
		return false
	}
	proceed := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Replace %s on %s with %s?", area, serial, archive)).
				Affirmative("Restore").
				Negative("Cancel").
				Value(&proceed),
		),
	).WithTheme(huh.ThemeDracula()).Run()
	if err != nil {
		if !errors.Is(err, huh.ErrUserAborted) {
			WarnError("confirmation prompt: %v", err)
		}
		return false
	}
	return proceed
}

func init() {
	f := restoreCmd.Flags()
	f.String("area", "", "NV area to replace (default: nv.primary)")
	f.Bool("reboot", false, "Reboot after extracting")
	f.BoolP("yes", "y", false, "Restore without asking for confirmation")
	f.Bool("stage-only", false, "Push and verify the archive, then stop")
	rootCmd.AddCommand(restoreCmd)
}
