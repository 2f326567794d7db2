package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

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
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields the rest of the server treats as
// mandatory, the way the teacher's memory.embedding_dimensions default was
// handled as a warn-and-default rather than a hard error.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}
	if cfg.Store.EmbeddingDimensions == 0 {
		cfg.Store.EmbeddingDimensions = 1536
	}
	if cfg.Store.MinConns == 0 {
		cfg.Store.MinConns = 10
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 20
	}
	if cfg.RateLimit.DefaultLimitPerMinute == 0 {
		cfg.RateLimit.DefaultLimitPerMinute = 1000
	}
	if cfg.RateLimit.DefaultQuotaPerMinute == 0 {
		cfg.RateLimit.DefaultQuotaPerMinute = 1000
	}
	if cfg.Quota.DefaultCost == 0 {
		cfg.Quota.DefaultCost = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}
	if cfg.Store.MinConns < 0 || cfg.Store.MaxConns < 0 {
		errs = append(errs, errors.New("store.min_conns and store.max_conns must not be negative"))
	}
	if cfg.Store.MinConns > 0 && cfg.Store.MaxConns > 0 && cfg.Store.MinConns > cfg.Store.MaxConns {
		errs = append(errs, fmt.Errorf("store.min_conns (%d) must not exceed store.max_conns (%d)", cfg.Store.MinConns, cfg.Store.MaxConns))
	}

	if cfg.RateLimit.RedisURL == "" {
		errs = append(errs, errors.New("rate_limit.redis_url is required"))
	}

	if cfg.Security.SigningSeedHex != "" {
		if seed, err := hex.DecodeString(cfg.Security.SigningSeedHex); err != nil {
			errs = append(errs, fmt.Errorf("security.signing_seed_hex is not valid hex: %w", err))
		} else if len(seed) != 32 {
			errs = append(errs, fmt.Errorf("security.signing_seed_hex must decode to 32 bytes (an Ed25519 seed), got %d", len(seed)))
		}
	}

	return errors.Join(errs...)
}
