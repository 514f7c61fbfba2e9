// Package config provides the configuration schema, loader, and file watcher
// for the nlx orchestration engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the nlx process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a [time.Duration] that unmarshals from YAML either as a Go
// duration string ("30s", "24h") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler]. Numeric scalars would decode
// into a string just fine, so the node tag decides which form this is.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" || value.Tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("config: invalid duration value")
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for nlx.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bus      BusConfig      `yaml:"bus"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Search   SearchConfig   `yaml:"search"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// ServerConfig holds the diagnostics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz, and /metrics
	// (e.g., ":9090"). Empty disables the diagnostics server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BusConfig holds message bus connection settings.
type BusConfig struct {
	// URL is the NATS server address (e.g., "nats://127.0.0.1:4222").
	URL string `yaml:"url"`

	// Name identifies this client on the bus.
	Name string `yaml:"name"`

	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait Duration `yaml:"reconnect_wait"`

	// MaxReconnects bounds reconnect attempts; 0 uses the default, -1 retries
	// forever.
	MaxReconnects int `yaml:"max_reconnects"`
}

// RedisConfig holds session persistence settings.
type RedisConfig struct {
	// Addr is the redis host:port.
	Addr string `yaml:"addr"`

	// Password authenticates to redis if set.
	Password string `yaml:"password"`

	// DB selects the redis logical database.
	DB int `yaml:"db"`

	// TTL is how long an idle session survives before redis expires it.
	TTL Duration `yaml:"ttl"`

	// MaxArchives caps the per-user archive list length.
	MaxArchives int `yaml:"max_archives"`
}

// SessionConfig holds per-conversation behaviour settings.
type SessionConfig struct {
	// Suffix distinguishes parallel sessions for the same user and host.
	Suffix string `yaml:"suffix"`

	// MusicWait bounds how long a conversation cycle waits for an
	// asynchronous music result before reporting it pending.
	MusicWait Duration `yaml:"music_wait"`

	// SettingsPath locates the persisted user settings blob. Empty uses
	// <user config dir>/nlx/settings.json.
	SettingsPath string `yaml:"settings_path"`

	// AutoApprove skips the approval gate for shell and system actions.
	AutoApprove bool `yaml:"auto_approve"`
}

// TimeoutsConfig bounds each backend request kind. Zero values fall back to
// the built-in defaults.
type TimeoutsConfig struct {
	LLM           Duration `yaml:"llm"`
	Image         Duration `yaml:"image"`
	OCR           Duration `yaml:"ocr"`
	DocumentQuery Duration `yaml:"document_query"`
	Shell         Duration `yaml:"shell"`
	SystemCommand Duration `yaml:"system_command"`
}

// SearchConfig selects the web search backend.
type SearchConfig struct {
	// Provider names the search implementation. Currently "duckduckgo".
	Provider string `yaml:"provider"`

	// Limit is the default result count per search.
	Limit int `yaml:"limit"`
}

// BreakerConfig tunes the per-subject circuit breaker guarding bus requests.
type BreakerConfig struct {
	// Threshold is the consecutive transport failure count that opens the
	// breaker for a subject.
	Threshold int `yaml:"threshold"`

	// CoolDown is how long an open breaker rejects requests before probing.
	CoolDown Duration `yaml:"cool_down"`
}

// Default returns a Config with the built-in defaults applied. Loading a file
// overlays onto these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
		Bus: BusConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "nlx",
			ReconnectWait: Duration(2 * time.Second),
			MaxReconnects: 60,
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			TTL:         Duration(24 * time.Hour),
			MaxArchives: 50,
		},
		Session: SessionConfig{
			MusicWait: Duration(300 * time.Second),
		},
		Search: SearchConfig{
			Provider: "duckduckgo",
			Limit:    5,
		},
		Breaker: BreakerConfig{
			Threshold: 3,
			CoolDown:  Duration(30 * time.Second),
		},
	}
}
