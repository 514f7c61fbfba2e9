package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSearchProviders lists the known web search backends. Used by
// [Validate] to warn about unrecognised names.
var ValidSearchProviders = []string{"duckduckgo"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate]. A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bus.URL == "" {
		errs = append(errs, errors.New("bus.url is required"))
	}
	if cfg.Bus.ReconnectWait < 0 {
		errs = append(errs, errors.New("bus.reconnect_wait must not be negative"))
	}

	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; sessions will not survive restarts")
	}
	if cfg.Redis.TTL < 0 {
		errs = append(errs, errors.New("redis.ttl must not be negative"))
	}
	if cfg.Redis.MaxArchives < 0 {
		errs = append(errs, errors.New("redis.max_archives must not be negative"))
	}

	if cfg.Session.MusicWait < 0 {
		errs = append(errs, errors.New("session.music_wait must not be negative"))
	}

	for _, t := range []struct {
		name string
		d    Duration
	}{
		{"timeouts.llm", cfg.Timeouts.LLM},
		{"timeouts.image", cfg.Timeouts.Image},
		{"timeouts.ocr", cfg.Timeouts.OCR},
		{"timeouts.document_query", cfg.Timeouts.DocumentQuery},
		{"timeouts.shell", cfg.Timeouts.Shell},
		{"timeouts.system_command", cfg.Timeouts.SystemCommand},
	} {
		if t.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", t.name))
		}
	}

	if cfg.Search.Provider != "" && !slices.Contains(ValidSearchProviders, cfg.Search.Provider) {
		slog.Warn("unknown search provider — may be a typo or third-party backend",
			"name", cfg.Search.Provider,
			"known", ValidSearchProviders,
		)
	}
	if cfg.Search.Limit < 0 {
		errs = append(errs, errors.New("search.limit must not be negative"))
	}

	if cfg.Breaker.Threshold < 0 {
		errs = append(errs, errors.New("breaker.threshold must not be negative"))
	}
	if cfg.Breaker.CoolDown < 0 {
		errs = append(errs, errors.New("breaker.cool_down must not be negative"))
	}

	return errors.Join(errs...)
}
