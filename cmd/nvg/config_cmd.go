package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect nvg configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after defaults, nvg.yaml, .env, NVG_* environment
variables, the device profile and command-line flags have been applied.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput() {
			outputJSON(cfg.Settings())
			return nil
		}
		source := "defaults only"
		if cfg.File != "" {
			source = cfg.File
		}
		printLine(ui.RenderMuted("# " + source))
		return cfg.WriteYAML(os.Stdout)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
