package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full on-disk configuration. Files may be JSON or YAML;
// both are decoded strictly, so unknown keys fail the load.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server  ServerConfig  `json:"server"`
	Session SessionConfig `json:"session"`
	Message MessageConfig `json:"message"`
	Uploads UploadsConfig `json:"uploads,omitempty"`

	// Schedule is the optional cron trigger for unattended passes.
	// Omitted means manual dispatch only.
	Schedule *ScheduleConfig `json:"schedule,omitempty"`

	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Addr string `json:"addr"` // default: "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// StaticDir serves the operator page assets at /. Empty disables it.
	StaticDir string `json:"static_dir,omitempty"`
}

// SessionConfig controls the messaging session lifecycle.
//
// Defaults (when fields are omitted/zero):
//   - store_path: "./wablast.db"
//   - reconnect_base: "3s"
//   - reconnect_cap: "60s"
//   - max_attempts: 10
//   - send_timeout: "30s"
type SessionConfig struct {
	// StorePath is the sqlite file holding device credentials.
	StorePath string `json:"store_path,omitempty"`

	ReconnectBase string `json:"reconnect_base,omitempty"`
	ReconnectCap  string `json:"reconnect_cap,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`

	// ProbeText is sent to the self broadcast channel after pairing to
	// confirm the link end to end.
	ProbeText string `json:"probe_text,omitempty"`
}

// MessageConfig controls what a pass sends and how fast.
type MessageConfig struct {
	// Template is the caption; {nombre}, {codigo} and {vencimiento} are
	// substituted per recipient.
	Template string `json:"template"`

	ImagePath         string `json:"image_path"`
	FallbackImagePath string `json:"fallback_image_path,omitempty"`

	// Delay is the fixed pause between consecutive deliveries. Default "2s".
	Delay string `json:"delay,omitempty"`

	// RetryAttempts is total delivery attempts per recipient. Default 2.
	RetryAttempts int `json:"retry_attempts,omitempty"`
}

// UploadsConfig controls spreadsheet uploads.
type UploadsConfig struct {
	// MaxBytes caps the accepted upload size. Default 10 MiB.
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// ScheduleConfig controls the cron trigger.
type ScheduleConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a standard 5-field cron expression, e.g. "0 9 * * *".
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ log lines to a Telegram chat so the
// operator hears about session loss or failed passes.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // bot token; never logged
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional pass-history store.
// Nil section means history is disabled.
//
// Example:
//
//	"storage": { "path": "./wablast_history.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite busy_timeout
}

// Validate checks cross-field constraints and all duration strings.
// It is also the Watch() validator, so a bad edit never gets published.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	durations := []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"session.reconnect_base", c.Session.ReconnectBase},
		{"session.reconnect_cap", c.Session.ReconnectCap},
		{"session.send_timeout", c.Session.SendTimeout},
		{"message.delay", c.Message.Delay},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := DurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Session.MaxAttempts < 0 {
		return fmt.Errorf("session.max_attempts: must be >= 0")
	}
	if c.Message.RetryAttempts < 0 {
		return fmt.Errorf("message.retry_attempts: must be >= 0")
	}
	if strings.TrimSpace(c.Message.Template) == "" {
		return fmt.Errorf("message.template: required")
	}
	if strings.TrimSpace(c.Message.ImagePath) == "" {
		return fmt.Errorf("message.image_path: required")
	}
	if c.Schedule != nil && c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		return fmt.Errorf("schedule.spec: required when schedule is enabled")
	}
	if c.Logging.Alerts.Enabled {
		if strings.TrimSpace(c.Logging.Alerts.Token) == "" {
			return fmt.Errorf("logging.alerts.token: required when alerts are enabled")
		}
		if c.Logging.Alerts.ChatID == 0 {
			return fmt.Errorf("logging.alerts.chat_id: required when alerts are enabled")
		}
	}
	if c.Storage != nil && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required when storage section is present")
	}
	return nil
}

// ---- resolved accessors (defaults applied, durations parsed) ----

func (s ServerConfig) ResolvedAddr() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8080"
}

func (s SessionConfig) ResolvedStorePath() string {
	if p := strings.TrimSpace(s.StorePath); p != "" {
		return p
	}
	return "./wablast.db"
}

func (s SessionConfig) ResolvedReconnectBase() time.Duration {
	d, err := DurationOrDefault("session.reconnect_base", s.ReconnectBase, 3*time.Second)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

func (s SessionConfig) ResolvedReconnectCap() time.Duration {
	d, err := DurationOrDefault("session.reconnect_cap", s.ReconnectCap, 60*time.Second)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

func (s SessionConfig) ResolvedMaxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 10
}

func (s SessionConfig) ResolvedSendTimeout() time.Duration {
	d, err := DurationOrDefault("session.send_timeout", s.SendTimeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (m MessageConfig) ResolvedDelay() time.Duration {
	d, err := DurationOrDefault("message.delay", m.Delay, 2*time.Second)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func (m MessageConfig) ResolvedRetryAttempts() int {
	if m.RetryAttempts > 0 {
		return m.RetryAttempts
	}
	return 2
}

func (u UploadsConfig) ResolvedMaxBytes() int64 {
	if u.MaxBytes > 0 {
		return u.MaxBytes
	}
	return 10 << 20
}

func (s *StorageConfig) ResolvedBusyTimeout() time.Duration {
	if s == nil {
		return 0
	}
	d, err := DurationOrDefault("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
