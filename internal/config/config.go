// Package config loads and watches the taskping configuration file.
//
// YAML and JSON are both accepted; YAML is coerced to JSON so a single
// strict decoder (DisallowUnknownFields) covers both formats. All
// durations are Go duration strings (e.g. "500ms", "10s", "12h").
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Push      PushConfig      `json:"push"`
	Engine    EngineConfig    `json:"engine,omitempty"`
	Cooldown  CooldownConfig  `json:"cooldown,omitempty"`
	Feed      FeedConfig      `json:"feed,omitempty"`
	Proactive ProactiveConfig `json:"proactive,omitempty"`
	Alerts    AlertConfig     `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the entity store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, nothing survives a restart
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PushConfig controls the push transport client.
//
// If Endpoint is empty the transport is a no-op (useful for dry runs and
// tests); messages are still recorded, just never sent.
type PushConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	ChunkSize   int    `json:"chunk_size,omitempty"`   // default 100 (transport limit)
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // chunk sends per second, default 10
	Timeout     string `json:"timeout,omitempty"`      // per-chunk HTTP timeout, default 10s
}

// EngineConfig controls the change-batch processing pipeline.
type EngineConfig struct {
	Workers int `json:"workers,omitempty"` // default 4
}

type CooldownConfig struct {
	Window string `json:"window,omitempty"` // default 12h
}

// FeedConfig controls the change feed runner.
type FeedConfig struct {
	MaxRetries int `json:"max_retries,omitempty"` // per-record redelivery cap, default 3
	QueueSize  int `json:"queue_size,omitempty"`  // in-process source buffer, default 64
}

// ProactiveConfig controls the scheduled "new tasks available" sweep.
// Schedule is a cron expression ("0 */6 * * *"); empty disables the sweep.
type ProactiveConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	PageSize int    `json:"page_size,omitempty"` // profiles per store page, default 100
}

// AlertConfig controls operator alerts sent over Telegram.
// Disabled unless both token and chat_id are set.
type AlertConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// Validate rejects configurations the app cannot start with. Defaults are
// applied by the consuming components, not here.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("push.timeout", c.Push.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("cooldown.window", c.Cooldown.Window); err != nil {
		return err
	}
	if c.Proactive.Enabled && strings.TrimSpace(c.Proactive.Schedule) == "" {
		return errors.New("proactive.schedule is required when proactive.enabled")
	}
	if (c.Alerts.Token == "") != (c.Alerts.ChatID == 0) {
		return errors.New("alerts: token and chat_id must be set together")
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
