package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/ui"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	GroupID: "diagnose",
	Short:   "List attached devices that are online",
	Args:    noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serials, err := newGateway().ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput() {
			if serials == nil {
				serials = []string{}
			}
			outputJSON(map[string]interface{}{"devices": serials})
			return nil
		}
		if len(serials) == 0 {
			printLine(ui.CheckLine(ui.LevelWarn, "no devices online", "check the cable and USB debugging authorization"))
			return nil
		}
		for _, s := range serials {
			marker := ""
			if s == cfg.Device {
				marker = "selected"
			}
			printLine(ui.CheckLine(ui.LevelPass, s, marker))
		}
		return nil
	},
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("%s takes no arguments, got %q", cmd.CommandPath(), args)
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
