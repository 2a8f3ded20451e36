package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/steveyegge/nvguard/internal/config"
	"github.com/steveyegge/nvguard/internal/debug"
	"github.com/steveyegge/nvguard/internal/telemetry"
	"github.com/steveyegge/nvguard/internal/ui"
)

// outputFormat selects how command results are printed on stdout.
type outputFormat enumflag.Flag

const (
	formatText outputFormat = iota
	formatJSON
)

var outputFormatIds = map[outputFormat][]string{
	formatText: {"text"},
	formatJSON: {"json"},
}

var logFormatIds = map[debug.Format][]string{
	debug.FormatText: {"text"},
	debug.FormatJSON: {"json"},
}

var (
	configFile  string
	verboseFlag bool
	quietFlag   bool
	logFormat   = debug.FormatText
	format      = formatText

	// Resolved in PersistentPreRunE and read by every command.
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nvg",
	Short: "nvg - NV/modem corruption toolkit for Android devices",
	Long: `nvg diagnoses, backs up and repairs modem NV corruption (nvdata/nvcfg)
on a single rooted Android device reachable over adb.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		ui.Init()
		log = debug.NewLogger(os.Stderr, logFormat)

		c, err := config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
		if err != nil {
			FatalErrorWithHint(err.Error(), "Check nvg.yaml, NVG_* variables and --profile; 'nvg config show' prints the resolved settings")
		}
		cfg = c
		if cfg.File != "" {
			log.WithField("file", cfg.File).Debug("config loaded")
		}
		if cfg.ProfileName != "" {
			log.WithField("profile", cfg.ProfileName).Debug("device profile applied")
		}

		if err := telemetry.Init(cmd.Context(), "nvg", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./nvg.yaml, then ~/.config/nvguard/nvg.yaml)")
	pf.String("device", "", "Device serial (default: the only attached device; $NVG_DEVICE)")
	pf.String("adb", "adb", "Path to the adb binary ($NVG_ADB)")
	pf.String("work-dir", ".", "Directory for session, backup and lock files ($NVG_WORK_DIR)")
	pf.String("profile", "", "TOML device profile overriding partitions and NV areas ($NVG_PROFILE)")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	pf.Var(enumflag.New(&logFormat, "log-format", logFormatIds, enumflag.EnumCaseInsensitive), "log-format", "Log format on stderr: text or json")
	pf.Var(enumflag.New(&format, "format", outputFormatIds, enumflag.EnumCaseInsensitive), "format", "Result format on stdout: text or json")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddGroup(
		&cobra.Group{ID: "diagnose", Title: "Diagnose:"},
		&cobra.Group{ID: "protect", Title: "Backup & Restore:"},
		&cobra.Group{ID: "repair", Title: "Repair:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if shutdownErr := telemetry.Shutdown(context.Background()); shutdownErr != nil {
		WarnError("flushing telemetry: %v", shutdownErr)
	}
	os.Exit(exitCode(err))
}

func jsonOutput() bool { return format == formatJSON }

// printf writes human output unless --quiet or --format json is in effect.
func printf(f string, args ...interface{}) {
	if jsonOutput() {
		return
	}
	debug.PrintNormal(f, args...)
}

func printLine(args ...interface{}) {
	if jsonOutput() {
		return
	}
	debug.PrintlnNormal(args...)
}
