package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "72h" or "5s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// RollupWindow bounds one continuous-aggregate refresh:
// buckets inside [now - start_offset, now - end_offset] are recomputed.
type RollupWindow struct {
	StartOffset Duration `yaml:"start_offset"`
	EndOffset   Duration `yaml:"end_offset"`
}

// Config holds all application configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Timeouts struct {
		Op Duration `yaml:"op"`
	} `yaml:"timeouts"`
	Retention struct {
		Minute    Duration `yaml:"minute"`
		Hour      Duration `yaml:"hour"`
		Day       Duration `yaml:"day"`
		Snapshots Duration `yaml:"snapshots"`
	} `yaml:"retention"`
	Rollup struct {
		Daily  RollupWindow `yaml:"daily"`
		Weekly RollupWindow `yaml:"weekly"`
	} `yaml:"rollup"`
	Schedule struct {
		DailyRollupCron       string `yaml:"daily_rollup_cron"`
		WeeklyRollupCron      string `yaml:"weekly_rollup_cron"`
		CompressCron          string `yaml:"compress_cron"`
		SnapshotRetentionCron string `yaml:"snapshot_retention_cron"`
	} `yaml:"schedule"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("MARKETCORE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MARKETCORE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MARKETCORE_OP_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Timeouts.Op = Duration(parsed)
		}
	}

	// Defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/marketcore.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Timeouts.Op == 0 {
		cfg.Timeouts.Op = Duration(5 * time.Second)
	}
	if cfg.Retention.Minute == 0 {
		cfg.Retention.Minute = Duration(7 * 24 * time.Hour)
	}
	if cfg.Retention.Hour == 0 {
		cfg.Retention.Hour = Duration(30 * 24 * time.Hour)
	}
	if cfg.Retention.Day == 0 {
		cfg.Retention.Day = Duration(90 * 24 * time.Hour)
	}
	if cfg.Retention.Snapshots == 0 {
		cfg.Retention.Snapshots = Duration(30 * 24 * time.Hour)
	}
	if cfg.Rollup.Daily.StartOffset == 0 {
		cfg.Rollup.Daily.StartOffset = Duration(24 * time.Hour)
	}
	if cfg.Rollup.Daily.EndOffset == 0 {
		cfg.Rollup.Daily.EndOffset = Duration(time.Hour)
	}
	if cfg.Rollup.Weekly.StartOffset == 0 {
		cfg.Rollup.Weekly.StartOffset = Duration(7 * 24 * time.Hour)
	}
	if cfg.Rollup.Weekly.EndOffset == 0 {
		cfg.Rollup.Weekly.EndOffset = Duration(time.Hour)
	}
	if cfg.Schedule.DailyRollupCron == "" {
		cfg.Schedule.DailyRollupCron = "0 */15 * * * *"
	}
	if cfg.Schedule.WeeklyRollupCron == "" {
		cfg.Schedule.WeeklyRollupCron = "0 30 0 * * *"
	}
	if cfg.Schedule.CompressCron == "" {
		cfg.Schedule.CompressCron = "0 0 1 * * *"
	}
	if cfg.Schedule.SnapshotRetentionCron == "" {
		cfg.Schedule.SnapshotRetentionCron = "0 30 1 * * *"
	}

	return cfg, nil
}

// Validate checks that all required fields are coherent.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Timeouts.Op.Std() <= 0 {
		return fmt.Errorf("timeouts.op must be positive")
	}
	for name, r := range map[string]Duration{
		"retention.minute":    c.Retention.Minute,
		"retention.hour":      c.Retention.Hour,
		"retention.day":       c.Retention.Day,
		"retention.snapshots": c.Retention.Snapshots,
	} {
		if r.Std() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for name, w := range map[string]RollupWindow{
		"rollup.daily":  c.Rollup.Daily,
		"rollup.weekly": c.Rollup.Weekly,
	} {
		if w.StartOffset.Std() <= w.EndOffset.Std() {
			return fmt.Errorf("%s: start_offset must exceed end_offset", name)
		}
	}
	return nil
}
