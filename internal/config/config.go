package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/events"
	"github.com/newthinker/catalyst/internal/marketdata"
	"github.com/newthinker/catalyst/internal/marketdata/yahoo"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/router"
	"github.com/newthinker/catalyst/internal/scan"
	"github.com/newthinker/catalyst/internal/storage/archive"
)

type Config struct {
	Tickers   []string          `mapstructure:"tickers"`
	From      string            `mapstructure:"from"` // YYYY-MM-DD, optional
	To        string            `mapstructure:"to"`   // YYYY-MM-DD, optional
	Backtest  backtest.Config   `mapstructure:"backtest"`
	Events    EventsConfig      `mapstructure:"events"`
	Provider  ProviderConfig    `mapstructure:"provider"`
	Archive   archive.Config    `mapstructure:"archive"`
	Report    ReportConfig      `mapstructure:"report"`
	Notifiers []notifier.Config `mapstructure:"notifiers"`
	Router    router.Config     `mapstructure:"router"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Scan      ScanConfig        `mapstructure:"scan"`
	Log       LogConfig         `mapstructure:"log"`
}

// EventsConfig controls event extraction
type EventsConfig struct {
	Limit int `mapstructure:"limit"`
	// Calendar maps a ticker to known event dates and bypasses the provider
	Calendar map[string][]string `mapstructure:"calendar"`
}

// ProviderConfig selects market data behaviour
type ProviderConfig struct {
	Yahoo     yahoo.Config  `mapstructure:"yahoo"`
	Timeout   time.Duration `mapstructure:"timeout"`    // per call
	CacheSize int           `mapstructure:"cache_size"` // bounded response cache
	// Replay records or serves provider responses through the archive.
	// Empty disables it.
	Replay string `mapstructure:"replay"`
}

type ReportConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ScanConfig holds the daily scan settings
type ScanConfig struct {
	scan.Config `mapstructure:",squash"`
	Alert       scan.Rule `mapstructure:"alert"`
	Schedule    string    `mapstructure:"schedule"` // cron spec with a seconds field
	ExportKey   string    `mapstructure:"export_key"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from file. A .env file next to the config file,
// if any, is loaded first so ${VAR} references can resolve from it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("CATALYST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values, including those
	// nested in lists such as notifier params
	for _, key := range v.AllKeys() {
		if val, changed := expandEnv(v.Get(key)); changed {
			v.Set(key, val)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

func expandEnv(val any) (any, bool) {
	switch t := val.(type) {
	case string:
		if !strings.Contains(t, "${") {
			return t, false
		}
		return os.ExpandEnv(t), true
	case []any:
		changed := false
		for i, item := range t {
			if out, ok := expandEnv(item); ok {
				t[i] = out
				changed = true
			}
		}
		return t, changed
	case map[string]any:
		changed := false
		for k, item := range t {
			if out, ok := expandEnv(item); ok {
				t[k] = out
				changed = true
			}
		}
		return t, changed
	}
	return val, false
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("loading %s: %w", path, err))
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Backtest: backtest.DefaultConfig(),
		Events: EventsConfig{
			Limit: events.DefaultLimit,
		},
		Provider: ProviderConfig{
			Timeout:   15 * time.Second,
			CacheSize: 1024,
		},
		Archive: archive.Config{
			Type: "localfs",
			Path: "./data",
		},
		Report: ReportConfig{
			Prefix: "runs/latest",
		},
		Router: router.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Scan: ScanConfig{
			Config:    scan.DefaultConfig(),
			Alert:     scan.DefaultRule(),
			Schedule:  "0 30 8 * * MON-FRI",
			ExportKey: "scan/latest.csv",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Tickers) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("tickers must list at least one symbol"))
	}

	from, to, err := c.Range()
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("from (%s) is after to (%s)", c.From, c.To))
	}

	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	if c.Events.Limit < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("events limit cannot be negative, got %d", c.Events.Limit))
	}
	if _, err := c.Calendar(); err != nil {
		return err
	}

	if c.Provider.Timeout <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("provider timeout must be positive, got %s", c.Provider.Timeout))
	}
	if c.Provider.CacheSize <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("provider cache_size must be positive, got %d", c.Provider.CacheSize))
	}
	switch marketdata.ReplayMode(c.Provider.Replay) {
	case "", marketdata.ReplayAuto, marketdata.ReplayRecord, marketdata.ReplayOnly:
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown replay mode %q", c.Provider.Replay))
	}

	// Archive validation
	switch c.Archive.Type {
	case "", "localfs":
		if c.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive path required for localfs"))
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive s3 bucket required"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown archive type %q", c.Archive.Type))
	}

	for i, n := range c.Notifiers {
		if n.Type == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("notifiers[%d] has no type", i))
		}
	}

	if c.Router.Cooldown < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("router cooldown cannot be negative, got %s", c.Router.Cooldown))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("metrics addr required when enabled"))
	}

	if err := c.Scan.Config.Validate(); err != nil {
		return err
	}
	if c.Scan.Alert.MaxDaysUntil < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("scan alert max_days_until cannot be negative, got %d", c.Scan.Alert.MaxDaysUntil))
	}
	if c.Scan.Schedule != "" {
		if _, err := cron.NewParser(cronFields).Parse(c.Scan.Schedule); err != nil {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("scan schedule: %w", err))
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("log level: %w", err))
	}

	return nil
}

// cronFields matches cron.WithSeconds, used by the scan scheduler
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Range parses From and To. Either may be empty, yielding a zero time.
func (c *Config) Range() (time.Time, time.Time, error) {
	from, err := parseDate("from", c.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate("to", c.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// Calendar parses the configured event calendar. Ticker keys are upper-cased
// because viper lower-cases map keys.
func (c *Config) Calendar() (map[string][]time.Time, error) {
	if len(c.Events.Calendar) == 0 {
		return nil, nil
	}
	out := make(map[string][]time.Time, len(c.Events.Calendar))
	for ticker, dates := range c.Events.Calendar {
		parsed := make([]time.Time, 0, len(dates))
		for _, d := range dates {
			t, err := parseDate("calendar."+ticker, d)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, t)
		}
		sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })
		out[strings.ToUpper(ticker)] = parsed
	}
	return out, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		return time.Time{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("%s must be YYYY-MM-DD, got %q", field, s))
	}
	return t, nil
}
