package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment and returns a validated [Config] with defaults
// applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are expanded before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), os.Getenv)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults. Catalog pool sizes
// stay zero; they are role dependent, see [CatalogConfig.PoolSize].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Ingest.BackfillLimit == 0 {
		cfg.Ingest.BackfillLimit = DefaultBackfillLimit
	}
	if cfg.Ingest.BackfillInterval == 0 {
		cfg.Ingest.BackfillInterval = DefaultBackfillInterval
	}
	if cfg.Ingest.BackfillConcurrency == 0 {
		cfg.Ingest.BackfillConcurrency = DefaultBackfillConcurrency
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = DefaultQueueSize
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = DefaultSearchLimit
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = DefaultSearchMaxLimit
	}
	if cfg.Search.ErrorTTL == 0 {
		cfg.Search.ErrorTTL = DefaultErrorTTL
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Catalog.MinConns < 0 || cfg.Catalog.MaxConns < 0 {
		errs = append(errs, errors.New("catalog.min_conns and catalog.max_conns must not be negative"))
	}
	if cfg.Catalog.MaxConns > 0 && cfg.Catalog.MinConns > cfg.Catalog.MaxConns {
		errs = append(errs, fmt.Errorf("catalog.min_conns %d exceeds catalog.max_conns %d", cfg.Catalog.MinConns, cfg.Catalog.MaxConns))
	}

	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}
	if cfg.Cache.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("cache.redis_db %d must not be negative", cfg.Cache.RedisDB))
	}

	if cfg.Ingest.BackfillLimit < 0 {
		errs = append(errs, fmt.Errorf("ingest.backfill_limit %d must not be negative", cfg.Ingest.BackfillLimit))
	}
	if cfg.Ingest.BackfillInterval < 0 {
		errs = append(errs, fmt.Errorf("ingest.backfill_interval %s must not be negative", cfg.Ingest.BackfillInterval))
	}
	if cfg.Ingest.BackfillConcurrency < 0 {
		errs = append(errs, fmt.Errorf("ingest.backfill_concurrency %d must not be negative", cfg.Ingest.BackfillConcurrency))
	}
	if cfg.Ingest.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.queue_size %d must not be negative", cfg.Ingest.QueueSize))
	}

	if cfg.Search.DefaultLimit < 0 || cfg.Search.MaxLimit < 0 {
		errs = append(errs, errors.New("search.default_limit and search.max_limit must not be negative"))
	}
	if cfg.Search.MaxLimit > 0 && cfg.Search.DefaultLimit > cfg.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit %d exceeds search.max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit))
	}
	if cfg.Search.ErrorTTL < 0 {
		errs = append(errs, fmt.Errorf("search.error_ttl %s must not be negative", cfg.Search.ErrorTTL))
	}

	seen := make(map[string]int, len(cfg.Discord.MonitoredChannels))
	for i, id := range cfg.Discord.MonitoredChannels {
		if id == "" {
			errs = append(errs, fmt.Errorf("discord.monitored_channels[%d] is empty", i))
			continue
		}
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("discord.monitored_channels[%d] %q is a duplicate of discord.monitored_channels[%d]", i, id, prev))
		}
		seen[id] = i
	}
	if cfg.Discord.RelayChannelID != "" && slices.Contains(cfg.Discord.MonitoredChannels, cfg.Discord.RelayChannelID) {
		errs = append(errs, fmt.Errorf("discord.relay_channel_id %q must not be monitored", cfg.Discord.RelayChannelID))
	}

	return errors.Join(errs...)
}

// RequireRole checks that cfg has every setting role needs to start.
func RequireRole(cfg *Config, role Role) error {
	var errs []error
	switch role {
	case RoleSpider:
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required"))
		}
		if cfg.Discord.RelayChannelID == "" {
			errs = append(errs, errors.New("discord.relay_channel_id is required"))
		}
		if len(cfg.Discord.MonitoredChannels) == 0 {
			errs = append(errs, errors.New("discord.monitored_channels must list at least one channel"))
		}
	case RoleFinder:
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required"))
		}
		if cfg.Cache.RedisAddr == "" {
			slog.Warn("cache.redis_addr is empty; using the in-process search cache")
		}
	case RoleTool:
		if cfg.Catalog.PostgresDSN == "" {
			errs = append(errs, errors.New("catalog.postgres_dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", role))
	}
	return errors.Join(errs...)
}
