package config

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings returns the configuration as nested maps keyed like the config
// file, with durations rendered as strings ("1m0s").
func (c *Config) Settings() map[string]any {
	d := func(v time.Duration) string { return v.String() }
	return map[string]any{
		"device":       c.Device,
		"adb":          c.ADB,
		"work-dir":     c.WorkDir,
		"radio-window": c.RadioWindow,
		"remote-tmp":   c.RemoteTmp,
		"profile":      c.Profile,
		"health": map[string]any{
			"rna-threshold": c.Health.RNAThreshold,
		},
		"monitor": map[string]any{
			"interval":      d(c.Monitor.Interval),
			"rna-threshold": c.Monitor.RNAThreshold,
			"sim-pattern":   c.Monitor.SIMPattern,
			"exit-on-alert": c.Monitor.ExitOnAlert,
			"alert-command": c.Monitor.AlertCommand,
			"metrics-file":  c.Monitor.MetricsFile,
		},
		"recovery": map[string]any{
			"max-poll-attempts": c.Recovery.MaxPollAttempts,
			"poll-interval":     d(c.Recovery.PollInterval),
			"reboot-grace":      d(c.Recovery.RebootGrace),
			"settle-delay":      d(c.Recovery.SettleDelay),
		},
		"backup": map[string]any{
			"dump-timeout": d(c.Backup.DumpTimeout),
			"resume-dir":   c.Backup.ResumeDir,
			"partitions":   c.Backup.Partitions,
		},
		"nv": map[string]any{
			"primary":   c.NV.Primary,
			"secondary": c.NV.Secondary,
		},
	}
}

// WriteYAML renders Settings as YAML, which nvg also accepts as nvg.yaml.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Settings()); err != nil {
		return err
	}
	return enc.Close()
}
