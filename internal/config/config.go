// Package config resolves nvg settings from defaults, an optional nvg.yaml,
// a .env file, NVG_* environment variables and command-line flags, in
// increasing order of precedence.
//
// The result is a single Config value that the CLI hands to constructors.
// Nothing below cmd/nvg reads configuration on its own.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/steveyegge/nvguard/internal/anomaly"
)

// EnvPrefix prefixes every environment override (NVG_WORK_DIR, NVG_MONITOR_INTERVAL, ...).
const EnvPrefix = "NVG"

// FileName is the config file base name searched for without extension.
const FileName = "nvg"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// HealthConfig tunes the health predicate used by `nvg check`.
type HealthConfig struct {
	RNAThreshold int `mapstructure:"rna-threshold"`
}

// MonitorConfig tunes `nvg monitor`.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	RNAThreshold int           `mapstructure:"rna-threshold"`
	SIMPattern   string        `mapstructure:"sim-pattern"`
	ExitOnAlert  bool          `mapstructure:"exit-on-alert"`
	AlertCommand string        `mapstructure:"alert-command"`
	MetricsFile  string        `mapstructure:"metrics-file"`
}

// RecoveryConfig tunes `nvg repair`.
type RecoveryConfig struct {
	MaxPollAttempts int           `mapstructure:"max-poll-attempts"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	RebootGrace     time.Duration `mapstructure:"reboot-grace"`
	SettleDelay     time.Duration `mapstructure:"settle-delay"`
}

// BackupConfig tunes `nvg backup` and the backup half of `nvg check`.
type BackupConfig struct {
	DumpTimeout time.Duration `mapstructure:"dump-timeout"`
	ResumeDir   string        `mapstructure:"resume-dir"`
	Partitions  []string      `mapstructure:"partitions"`
}

// NVConfig names the NV directories on the device.
type NVConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

// Config is the fully resolved configuration.
type Config struct {
	Device      string         `mapstructure:"device"`
	ADB         string         `mapstructure:"adb"`
	WorkDir     string         `mapstructure:"work-dir"`
	RadioWindow int            `mapstructure:"radio-window"`
	RemoteTmp   string         `mapstructure:"remote-tmp"`
	Profile     string         `mapstructure:"profile"`
	Health      HealthConfig   `mapstructure:"health"`
	Monitor     MonitorConfig  `mapstructure:"monitor"`
	Recovery    RecoveryConfig `mapstructure:"recovery"`
	Backup      BackupConfig   `mapstructure:"backup"`
	NV          NVConfig       `mapstructure:"nv"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
	// ProfileName is set when a device profile was applied.
	ProfileName string `mapstructure:"-"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile overrides the search path. It must exist.
	ConfigFile string
	// EnvFile is loaded before reading the environment. Defaults to ".env";
	// a missing file is ignored.
	EnvFile string
	// Flags whose names match a config key override every other source
	// when they were set on the command line.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names that differ from their config key. A flag
	// annotated with FlagAnnotation takes its key from the annotation.
	FlagKeys map[string]string
}

// FlagAnnotation names the pflag annotation carrying a flag's config key,
// for command-local flags such as `monitor --interval`.
const FlagAnnotation = "nvg_config_key"

// BindFlag annotates the flag name in fs with key.
func BindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, FlagAnnotation, []string{key})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "")
	v.SetDefault("adb", "adb")
	v.SetDefault("work-dir", ".")
	v.SetDefault("radio-window", 2000)
	v.SetDefault("remote-tmp", "/data/local/tmp")
	v.SetDefault("profile", "")

	v.SetDefault("health.rna-threshold", 5)

	v.SetDefault("monitor.interval", 60*time.Second)
	v.SetDefault("monitor.rna-threshold", 10)
	v.SetDefault("monitor.sim-pattern", anomaly.DefaultSIMPattern)
	v.SetDefault("monitor.exit-on-alert", false)
	v.SetDefault("monitor.alert-command", "")
	v.SetDefault("monitor.metrics-file", "")

	v.SetDefault("recovery.max-poll-attempts", 24)
	v.SetDefault("recovery.poll-interval", 5*time.Second)
	v.SetDefault("recovery.reboot-grace", 5*time.Second)
	v.SetDefault("recovery.settle-delay", 10*time.Second)

	v.SetDefault("backup.dump-timeout", 10*time.Minute)
	v.SetDefault("backup.resume-dir", "")
	v.SetDefault("backup.partitions", []string{"md1img", "nvram", "nvdata", "nvcfg", "protect1", "protect2", "proinfo"})

	v.SetDefault("nv.primary", "/mnt/vendor/nvdata")
	v.SetDefault("nv.secondary", "/mnt/vendor/nvcfg")
}

// searchPaths lists the directories searched for nvg.yaml.
func searchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "nvguard"))
	}
	return paths
}

func loadEnvFile(name string) error {
	if name == "" {
		name = ".env"
	}
	if _, err := os.Stat(name); err != nil {
		return nil
	}
	if err := godotenv.Load(name); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

func newViper(opts Options) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, p := range searchPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.Visit(func(f *pflag.Flag) {
			key := f.Name
			if mapped, ok := opts.FlagKeys[key]; ok {
				key = mapped
			}
			if ann := f.Annotations[FlagAnnotation]; len(ann) == 1 {
				key = ann[0]
			}
			if !isKey(v, key) {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}
	return v, nil
}

func isKey(v *viper.Viper, key string) bool {
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Load resolves the configuration. A device profile named by the "profile"
// key is applied on top before validation.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	v, err := newViper(opts)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Profile != "" {
		p, err := LoadProfile(cfg.Profile)
		if err != nil {
			return nil, err
		}
		cfg.ApplyProfile(p)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	var problems []string
	if c.RadioWindow <= 0 {
		problems = append(problems, "radio-window must be positive")
	}
	if c.Health.RNAThreshold < 0 {
		problems = append(problems, "health.rna-threshold must not be negative")
	}
	if c.Monitor.RNAThreshold < 0 {
		problems = append(problems, "monitor.rna-threshold must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		problems = append(problems, "monitor.interval must be positive")
	}
	if _, err := regexp.Compile(c.Monitor.SIMPattern); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.sim-pattern: %v", err))
	}
	if c.Recovery.MaxPollAttempts < 1 {
		problems = append(problems, "recovery.max-poll-attempts must be at least 1")
	}
	if c.Recovery.PollInterval < 0 || c.Recovery.RebootGrace < 0 || c.Recovery.SettleDelay < 0 {
		problems = append(problems, "recovery delays must not be negative")
	}
	if c.Backup.DumpTimeout <= 0 {
		problems = append(problems, "backup.dump-timeout must be positive")
	}
	if !path.IsAbs(c.NV.Primary) {
		problems = append(problems, "nv.primary must be an absolute device path")
	}
	if c.NV.Secondary != "" && !path.IsAbs(c.NV.Secondary) {
		problems = append(problems, "nv.secondary must be an absolute device path")
	}
	if !path.IsAbs(c.RemoteTmp) {
		problems = append(problems, "remote-tmp must be an absolute device path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NVAreas returns the configured NV directories, primary first.
func (c *Config) NVAreas() []string {
	areas := []string{c.NV.Primary}
	if c.NV.Secondary != "" {
		areas = append(areas, c.NV.Secondary)
	}
	return areas
}

// MonitorRule builds the monitor predicate from the monitor section.
func (c *Config) MonitorRule() (anomaly.MonitorRule, error) {
	return anomaly.NewMonitorRule(c.Monitor.RNAThreshold, c.Monitor.SIMPattern)
}

// RuleLoader returns a function that re-resolves the configuration with the
// same options and yields the monitor rule. Used for hot reload.
func RuleLoader(opts Options) func() (anomaly.MonitorRule, error) {
	return func() (anomaly.MonitorRule, error) {
		cfg, err := Load(opts)
		if err != nil {
			return anomaly.MonitorRule{}, err
		}
		return cfg.MonitorRule()
	}
}
