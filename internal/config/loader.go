package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidEnrichmentProviders lists known enrichment provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidEnrichmentProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "mistral", "groq",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Classifier
	if cfg.Classifier.BaseURL == "" {
		errs = append(errs, errors.New("classifier.base_url is required"))
	} else if u, err := url.Parse(cfg.Classifier.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("classifier.base_url %q must be an http(s) URL", cfg.Classifier.BaseURL))
	}
	if cfg.Classifier.APIKey == "" {
		slog.Warn("classifier.api_key is empty; upload and invoke requests will be unauthenticated")
	}
	if cfg.Classifier.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout %s must not be negative", cfg.Classifier.Timeout))
	}

	// Capture
	if cfg.Capture.SegmentSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture.segment_seconds %d must not be negative", cfg.Capture.SegmentSeconds))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d must be 0 (default), 1, or 2", cfg.Capture.Channels))
	}

	// Snapshot
	if cfg.Snapshot.PollSeconds < 0 {
		errs = append(errs, fmt.Errorf("snapshot.poll_seconds %d must not be negative", cfg.Snapshot.PollSeconds))
	}
	if cfg.Snapshot.RecencySeconds < 0 {
		errs = append(errs, fmt.Errorf("snapshot.recency_seconds %d must not be negative", cfg.Snapshot.RecencySeconds))
	}
	if cfg.Snapshot.ExternalDir != "" && cfg.Snapshot.BridgeCommand == "" {
		errs = append(errs, errors.New("snapshot.bridge_command is required when snapshot.external_dir is set"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; alerts and call logs will not be persisted")
	}

	// Enrichment
	if cfg.Enrichment.Provider != "" && !slices.Contains(ValidEnrichmentProviders, cfg.Enrichment.Provider) {
		slog.Warn("unknown enrichment provider — may be a typo or third-party provider",
			"name", cfg.Enrichment.Provider,
			"known", ValidEnrichmentProviders,
		)
	}
	if cfg.Enrichment.Provider != "" && cfg.Enrichment.Model == "" {
		errs = append(errs, errors.New("enrichment.model is required when enrichment.provider is set"))
	}

	// Signals
	if cfg.Signals.BridgeURL == "" {
		errs = append(errs, errors.New("signals.bridge_url is required"))
	} else if !strings.HasPrefix(cfg.Signals.BridgeURL, "ws://") && !strings.HasPrefix(cfg.Signals.BridgeURL, "wss://") {
		errs = append(errs, fmt.Errorf("signals.bridge_url %q must be a ws(s) URL", cfg.Signals.BridgeURL))
	}

	return errors.Join(errs...)
}
