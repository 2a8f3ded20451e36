package main

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/config"
	"github.com/steveyegge/nvguard/internal/monitor"
	"github.com/steveyegge/nvguard/internal/ui"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	GroupID: "diagnose",
	Short:   "Poll modem health periodically and alert on anomalies",
	Long: `Poll the device every --interval and evaluate the monitor rule: an
alert fires when RADIO_NOT_AVAILABLE events reach --rna-threshold or the SIM
state matches --sim-pattern.

On alert, --alert-command runs via sh -c with NVG_DEVICE, NVG_REASONS,
NVG_RNA_COUNT and NVG_SIM_STATE in its environment. With --exit-on-alert
the first alert ends the run with exit code 20.

When a config file is in use, edits to its monitor thresholds take effect
on the next tick without restarting.`,
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		gw := newGateway()
		serial, err := selectDevice(ctx, gw)
		if err != nil {
			return err
		}
		rule, err := cfg.MonitorRule()
		if err != nil {
			return usageError(err)
		}

		m := monitor.New(newCapturer(gw), serial, rule, log)
		m.Interval = cfg.Monitor.Interval
		m.ExitOnAlert = cfg.Monitor.ExitOnAlert
		m.AlertCommand = cfg.Monitor.AlertCommand
		if cfg.Monitor.MetricsFile != "" {
			m.Metrics = monitor.NewMetrics(serial)
			m.MetricsFile = cfg.Monitor.MetricsFile
		}
		m.OnTick = func(t monitor.Tick) {
			if jsonOutput() {
				outputJSONLine(tickLine{
					Tick:     t.N,
					Time:     time.Now().UTC(),
					Device:   serial,
					RNACount: t.Snapshot.RadioEventCount,
					SIMState: t.Snapshot.SIMState(),
					Verdict:  t.Verdict,
				})
				return
			}
			level, detail := ui.LevelPass, "healthy"
			if t.Verdict.Anomalous {
				level, detail = ui.LevelFail, strings.Join(t.Verdict.Strings(), ", ")
			}
			printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")),
				ui.CheckLine(level, "tick "+strconv.Itoa(t.N), detail))
		}

		if cfg.File != "" {
			go func() {
				load := config.RuleLoader(config.Options{ConfigFile: cfg.File, Flags: cmd.Flags()})
				if err := m.WatchRule(ctx, cfg.File, monitor.RuleLoader(load)); err != nil {
					log.WithError(err).Warn("config hot reload disabled")
				}
			}()
		}

		log.WithField("device", serial).WithField("interval", m.Interval).Info("monitoring")
		if err := m.Loop(ctx); err != nil {
			if errors.Is(err, monitor.ErrAlertExit) {
				return exitWith(exitAlert, nil)
			}
			return err
		}
		return nil
	},
}

type tickLine struct {
	Tick     int             `json:"tick"`
	Time     time.Time       `json:"time"`
	Device   string          `json:"device"`
	RNACount int             `json:"rna_count"`
	SIMState string          `json:"sim_state"`
	Verdict  anomaly.Verdict `json:"verdict"`
}

func init() {
	f := monitorCmd.Flags()
	f.Duration("interval", monitor.DefaultInterval, "Time between health checks")
	f.Int("rna-threshold", 10, "RADIO_NOT_AVAILABLE count that raises an alert")
	f.String("sim-pattern", anomaly.DefaultSIMPattern, "Regular expression for alerting SIM states")
	f.Bool("exit-on-alert", false, "Exit with code 20 on the first alert")
	f.String("alert-command", "", "Shell command to run on each alert")
	f.String("metrics-file", "", "Write Prometheus textfile metrics here after each tick")
	config.BindFlag(f, "interval", "monitor.interval")
	config.BindFlag(f, "rna-threshold", "monitor.rna-threshold")
	config.BindFlag(f, "sim-pattern", "monitor.sim-pattern")
	config.BindFlag(f, "exit-on-alert", "monitor.exit-on-alert")
	config.BindFlag(f, "alert-command", "monitor.alert-command")
	config.BindFlag(f, "metrics-file", "monitor.metrics-file")
	rootCmd.AddCommand(monitorCmd)
}
