// Package config loads and validates the engine configuration. Validation
// is deliberately loud: an unknown rule kind or a missing tier entry is a
// programming error and fails startup, while missing optional knobs just
// pick up defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tradeops/eventguard/internal/adapters"
	"github.com/tradeops/eventguard/internal/alerts"
	"github.com/tradeops/eventguard/internal/assess"
	"github.com/tradeops/eventguard/internal/protect"
)

// Scheduler tunes the monitoring cadence.
type Scheduler struct {
	BaseIntervalSec   int    `yaml:"base_interval_sec"`
	HotIntervalSec    int    `yaml:"hot_interval_sec"`
	HotThresholdHours int    `yaml:"hot_threshold_hours"`
	RefreshCron       string `yaml:"refresh_cron"` // calendar rebuild schedule
}

// Alerts bundles manager, webhook and archive settings.
type Alerts struct {
	alerts.Config `yaml:",inline"`
	Webhook       alerts.WebhookConfig `yaml:"webhook"`
	ArchiveDSN    string               `yaml:"archive_dsn"` // empty disables the sqlite archive
}

// Root is the full engine configuration.
type Root struct {
	Scheduler  Scheduler              `yaml:"scheduler"`
	Assess     assess.Config          `yaml:"assess"`
	Protect    protect.Config         `yaml:"protect"`
	Alerts     Alerts                 `yaml:"alerts"`
	MarketData adapters.GuardedConfig `yaml:"market_data"`
}

// Default returns the operating defaults used when fields are absent.
func Default() Root {
	return Root{
		Scheduler: Scheduler{
			BaseIntervalSec:   300,
			HotIntervalSec:    60,
			HotThresholdHours: 48,
			RefreshCron:       "0 * * * *", // hourly
		},
		Assess:  assess.DefaultConfig(),
		Protect: protect.DefaultConfig(),
		Alerts: Alerts{
			Config: alerts.DefaultConfig(),
		},
		MarketData: adapters.DefaultGuardedConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Root, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	def := Default()
	if c.Scheduler.BaseIntervalSec <= 0 {
		c.Scheduler.BaseIntervalSec = def.Scheduler.BaseIntervalSec
	}
	if c.Scheduler.HotIntervalSec <= 0 {
		c.Scheduler.HotIntervalSec = def.Scheduler.HotIntervalSec
	}
	if c.Scheduler.HotThresholdHours <= 0 {
		c.Scheduler.HotThresholdHours = def.Scheduler.HotThresholdHours
	}
	if c.Scheduler.RefreshCron == "" {
		c.Scheduler.RefreshCron = def.Scheduler.RefreshCron
	}
	if len(c.Assess.TimeBands) == 0 {
		c.Assess = def.Assess
	}
	if len(c.Protect.PreHours) == 0 {
		c.Protect = def.Protect
	}
}

// Validate delegates to the component validators so every invalid
// configuration is caught before the engine starts.
func (c Root) Validate() error {
	if c.Scheduler.HotIntervalSec > c.Scheduler.BaseIntervalSec {
		return fmt.Errorf("config: hot_interval_sec %d exceeds base_interval_sec %d",
			c.Scheduler.HotIntervalSec, c.Scheduler.BaseIntervalSec)
	}
	if err := c.Assess.Validate(); err != nil {
		return err
	}
	if err := c.Protect.Validate(); err != nil {
		return err
	}
	return nil
}
