// Package config provides the configuration schema, loader and file watcher
// for SonicHunter.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// Slog returns the matching slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Role names the process a config is validated for.
type Role string

const (
	RoleSpider Role = "spider"
	RoleFinder Role = "finder"

	// RoleTool covers one-shot commands that only need the catalog.
	RoleTool Role = "tool"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Catalog CatalogConfig `yaml:"catalog"`
	Cache   CacheConfig   `yaml:"cache"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Search  SearchConfig  `yaml:"search"`
}

// ServerConfig holds the operational HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz, /status and /metrics. Empty
	// disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and channel layout.
type DiscordConfig struct {
	// Token is the bot token, with or without the "Bot " prefix.
	Token string `yaml:"token"`

	// GuildID scopes slash command registration. Empty registers globally.
	GuildID string `yaml:"guild_id"`

	// RelayChannelID receives relayed audio copies. It must not be
	// monitored.
	RelayChannelID string `yaml:"relay_channel_id"`

	// MonitoredChannels are watched for new audio and backfilled.
	MonitoredChannels []string `yaml:"monitored_channels"`
}

// CatalogConfig configures the PostgreSQL catalog. MinConns and MaxConns
// default per role when zero.
type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	MinConns    int32  `yaml:"min_conns"`
	MaxConns    int32  `yaml:"max_conns"`
}

// CacheConfig configures the search cache. An empty RedisAddr selects the
// in-process cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// BackfillOnStart runs a backfill of every monitored channel when the
	// spider starts.
	BackfillOnStart bool `yaml:"backfill_on_start"`

	BackfillLimit       int           `yaml:"backfill_limit"`
	BackfillInterval    time.Duration `yaml:"backfill_interval"`
	BackfillConcurrency int           `yaml:"backfill_concurrency"`
	QueueSize           int           `yaml:"queue_size"`
}

// SearchConfig tunes the search service.
type SearchConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	ErrorTTL     time.Duration `yaml:"error_ttl"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":9090"
	DefaultCacheTTL            = 5 * time.Minute
	DefaultBackfillLimit       = 500
	DefaultBackfillInterval    = 500 * time.Millisecond
	DefaultBackfillConcurrency = 4
	DefaultQueueSize           = 64
	DefaultSearchLimit         = 20
	DefaultSearchMaxLimit      = 50
	DefaultErrorTTL            = time.Second
)

// PoolSize returns the catalog pool bounds for role, falling back to the
// role's defaults for unset values.
func (c CatalogConfig) PoolSize(role Role) (minConns, maxConns int32) {
	minConns, maxConns = 1, 4
	switch role {
	case RoleSpider:
		minConns, maxConns = 2, 10
	case RoleFinder:
		minConns, maxConns = 5, 20
	}
	if c.MinConns > 0 {
		minConns = c.MinConns
	}
	if c.MaxConns > 0 {
		maxConns = c.MaxConns
	}
	return minConns, maxConns
}
