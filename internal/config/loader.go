package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands ${ENV_VAR}
// references against the process environment, and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})
	cfg, err := LoadFromReader(bytes.NewReader([]byte(expanded)))
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
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Tutor"
	}
	if cfg.Agent.Language == "" {
		cfg.Agent.Language = "en"
	}
	if cfg.Documents.Backend == "" {
		cfg.Documents.Backend = BackendChromem
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Room credentials are required to mint join tokens; a missing value is
	// a fatal configuration error rather than a session-time surprise.
	if cfg.Room.URL == "" {
		errs = append(errs, errors.New("room.url is required"))
	}
	if cfg.Room.APIKey == "" {
		errs = append(errs, errors.New("room.api_key is required"))
	}
	if cfg.Room.APISecret == "" {
		errs = append(errs, errors.New("room.api_secret is required"))
	}

	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"llm", cfg.Providers.LLM},
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
		{"embeddings", cfg.Providers.Embeddings},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
			continue
		}
		if p.entry.Name == "openai" && p.entry.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.%s.api_key is required for the openai provider", p.kind))
		}
	}

	if !cfg.Documents.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("documents.backend %q is invalid; valid values: postgres, chromem", cfg.Documents.Backend))
	}
	if cfg.Documents.Backend == BackendPostgres && cfg.Documents.PostgresDSN == "" {
		errs = append(errs, errors.New("documents.postgres_dsn is required for the postgres backend"))
	}

	if s := cfg.Agent.Voice.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed %.2f is out of range [0.5, 2.0]", s))
	}

	return errors.Join(errs...)
}
