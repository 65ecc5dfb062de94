// Package config loads the guardian's runtime settings from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Root is the top-level config file layout.
type Root struct {
	Monitor Monitor `yaml:"monitor"`
	Bridge  Bridge  `yaml:"bridge"`
	Journal Journal `yaml:"journal"`
}

// Monitor controls the watch cycle and the protection thresholds.
type Monitor struct {
	PollIntervalSeconds  float64 `yaml:"poll_interval_seconds"`
	BreakevenTriggerPips float64 `yaml:"breakeven_trigger_pips"`
	BreakevenOffsetPips  float64 `yaml:"breakeven_offset_pips"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	EndOfDayCleanup      bool    `yaml:"end_of_day_cleanup"`
	SymbolTTLSeconds     float64 `yaml:"symbol_ttl_seconds"`
}

// Bridge configures the HTTP venue client.
type Bridge struct {
	BaseURL            string  `yaml:"base_url"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
}

// Journal configures the command audit trail.
type Journal struct {
	Path string `yaml:"path"`
}

// Default returns the settings used when no config file is given.
func Default() Root {
	return Root{
		Monitor: Monitor{
			PollIntervalSeconds:  5,
			BreakevenTriggerPips: 3.0,
			BreakevenOffsetPips:  0.5,
			MaxDailyLoss:         -100,
			EndOfDayCleanup:      false,
			SymbolTTLSeconds:     60,
		},
	}
}

// Load reads path, fills unset fields with defaults, and validates.
func Load(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Root{}, fmt.Errorf("read config: %w", err)
	}
	var r Root
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Root{}, fmt.Errorf("parse config: %w", err)
	}
	def := Default()
	if r.Monitor.PollIntervalSeconds == 0 {
		r.Monitor.PollIntervalSeconds = def.Monitor.PollIntervalSeconds
	}
	if r.Monitor.BreakevenTriggerPips == 0 {
		r.Monitor.BreakevenTriggerPips = def.Monitor.BreakevenTriggerPips
	}
	if r.Monitor.BreakevenOffsetPips == 0 {
		r.Monitor.BreakevenOffsetPips = def.Monitor.BreakevenOffsetPips
	}
	if r.Monitor.MaxDailyLoss == 0 {
		r.Monitor.MaxDailyLoss = def.Monitor.MaxDailyLoss
	}
	if r.Monitor.SymbolTTLSeconds == 0 {
		r.Monitor.SymbolTTLSeconds = def.Monitor.SymbolTTLSeconds
	}
	if err := r.Validate(); err != nil {
		return Root{}, err
	}
	return r, nil
}

// Validate rejects settings the monitor cannot run with.
func (r Root) Validate() error {
	if r.Monitor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.poll_interval_seconds must be positive, got %v", r.Monitor.PollIntervalSeconds)
	}
	if r.Monitor.MaxDailyLoss > 0 {
		return fmt.Errorf("monitor.max_daily_loss must be zero or negative, got %v", r.Monitor.MaxDailyLoss)
	}
	if r.Monitor.BreakevenTriggerPips < 0 || r.Monitor.BreakevenOffsetPips < 0 {
		return fmt.Errorf("breakeven pips must not be negative")
	}
	if r.Bridge.TimeoutSeconds < 0 || r.Bridge.RateLimitPerSecond < 0 {
		return fmt.Errorf("bridge timings must not be negative")
	}
	return nil
}
