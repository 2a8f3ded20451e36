package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/archdiff"
)

var diffCmd = &cobra.Command{
	Use:     "diff <archive-a> <archive-b>",
	GroupID: "protect",
	Short:   "Compare two NV archives file by file",
	Long: `Extract two NV archives (.tar, .tar.gz/.tgz or .tar.xz) into temporary
directories and compare them: files present on only one side, and common
files whose size or SHA-256 differ.

Exits 1 when the archives differ, so it can gate scripts.`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := archdiff.Diff(args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput() {
			err = report.WriteJSON(os.Stdout)
		} else {
			err = report.WriteText(os.Stdout)
		}
		if err != nil {
			return err
		}
		if !report.Identical() {
			return exitWith(exitFatal, nil)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
