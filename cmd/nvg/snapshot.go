package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/diag"
	"github.com/steveyegge/nvguard/internal/ui"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	GroupID: "diagnose",
	Short:   "Capture modem properties and radio/kernel log excerpts",
	Long: `Capture a diagnostic snapshot of the modem subsystem.

By default only the watched properties and the trailing radio log window
are read. --full also reads the complete property dump, the full radio log
and dmesg. --out writes the six-file diagnostic bundle into a directory
and implies --full.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		out, _ := cmd.Flags().GetString("out")

		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		capturer := newCapturer(gw)

		var snap *diag.Snapshot
		if full || out != "" {
			snap = capturer.CaptureFull(ctx, serial)
		} else {
			snap = capturer.Capture(ctx, serial)
		}
		if out != "" {
			if err := os.MkdirAll(out, 0o750); err != nil {
				return err
			}
			if err := diag.WriteBundle(out, snap); err != nil {
				return err
			}
		}

		if jsonOutput() {
			outputJSON(snap)
			return nil
		}
		renderSnapshot(snap)
		if out != "" {
			printLine(ui.CheckLine(ui.LevelInfo, "bundle written", out))
		}
		return nil
	},
}

// renderSnapshot prints the watched properties, event count and excerpts.
func renderSnapshot(s *diag.Snapshot) {
	printLine(ui.RenderHeader("device " + s.Device))
	for _, k := range diag.WatchedProperties {
		v := s.Prop(k)
		level := ui.LevelPass
		switch {
		case v == "":
			level, v = ui.LevelSkip, "(unset)"
		case k == diag.PropSIMState && anomaly.SIMStateBad(v):
			level = ui.LevelFail
		case (k == diag.PropMDStatus || k == diag.PropMD1) && v != "ready":
			level = ui.LevelFail
		}
		printLine(ui.CheckLine(level, k, v))
	}
	for _, k := range diag.OptionalProperties {
		if v := s.Prop(k); v != "" {
			printLine(ui.CheckLine(ui.LevelInfo, k, v))
		}
	}
	printLine(ui.CheckLine(ui.LevelInfo, diag.RadioNotAvailable, strconv.Itoa(s.RadioEventCount)+" in radio window"))

	width := ui.TerminalWidth(120) - 4
	if len(s.RadioExcerpt) > 0 {
		printLine()
		printLine(ui.RenderHeader("radio excerpt"))
		for _, l := range ui.Excerpt(s.RadioExcerpt, ui.DefaultExcerptLines, width) {
			printLine("  " + l)
		}
	}
	if len(s.KernelExcerpt) > 0 {
		printLine()
		printLine(ui.RenderHeader("kernel excerpt"))
		for _, l := range ui.Excerpt(s.KernelExcerpt, ui.DefaultExcerptLines, width) {
			printLine("  " + l)
		}
	}
	for _, w := range s.Warnings {
		printLine(ui.CheckLine(ui.LevelWarn, "capture", w))
	}
}

func init() {
	snapshotCmd.Flags().Bool("full", false, "Also capture full getprop, full radio log and dmesg")
	snapshotCmd.Flags().String("out", "", "Write the diagnostic bundle into this directory")
	rootCmd.AddCommand(snapshotCmd)
}
