// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arc-tools/reconcile-cli/internal/provider"
)

// Config holds the full application configuration.
type Config struct {
	Sources   SourcesConfig            `yaml:"sources" mapstructure:"sources"`
	Metaforge provider.MetaforgeConfig `yaml:"metaforge" mapstructure:"metaforge"`
	Arcvault  provider.ArcvaultConfig  `yaml:"arcvault" mapstructure:"arcvault"`
	StashDB   provider.StashDBConfig   `yaml:"stashdb" mapstructure:"stashdb"`
	Tradepost provider.TradepostConfig `yaml:"tradepost" mapstructure:"tradepost"`
	Resolve   ResolveConfig            `yaml:"resolve" mapstructure:"resolve"`
	Cache     CacheConfig              `yaml:"cache" mapstructure:"cache"`
	Snapshot  SnapshotConfig           `yaml:"snapshot" mapstructure:"snapshot"`
	Fetch     FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig             `yaml:"server" mapstructure:"server"`
	Log       LogConfig                `yaml:"log" mapstructure:"log"`
}

// SourcesConfig selects which providers a run reconciles.
type SourcesConfig struct {
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`
}

// ResolveConfig tunes entity resolution.
type ResolveConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

// CacheConfig tunes the in-process memoization of pipeline output.
type CacheConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// SnapshotConfig configures the persisted snapshot of the slow provider.
type SnapshotConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	Path             string `yaml:"path" mapstructure:"path"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	SyncIntervalMins int    `yaml:"sync_interval_mins" mapstructure:"sync_interval_mins"`
}

// SyncInterval returns the staleness interval as a duration.
func (c SnapshotConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMins) * time.Minute
}

// FetchConfig configures the shared HTTP transport.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the per-request timeout as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the diff-data HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sources.enabled", []string{"metaforge", "arcvault", "stashdb", "tradepost"})
	v.SetDefault("metaforge.base_url", "https://api.metaforge.gg/v1")
	v.SetDefault("metaforge.page_size", 100)
	v.SetDefault("metaforge.max_parallel", 4)
	v.SetDefault("arcvault.dump_url", "https://raw.arcvault.dev/data/items.json")
	v.SetDefault("stashdb.export_url", "https://stashdb.wiki/api/export/items")
	v.SetDefault("tradepost.sheet_url", "https://mirror.tradepost.gg/sheets/items.xlsx")
	v.SetDefault("tradepost.sheet_name", "")
	v.SetDefault("resolve.fuzzy_threshold", 0.82)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("snapshot.driver", "sqlite")
	v.SetDefault("snapshot.path", "snapshot.db")
	v.SetDefault("snapshot.sync_interval_mins", 360)
	v.SetDefault("fetch.user_agent", "reconcile-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on and reports every
// violation at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func() {
		if c.Resolve.FuzzyThreshold < 0 || c.Resolve.FuzzyThreshold > 1 {
			problems = append(problems, "resolve.fuzzy_threshold must be between 0 and 1")
		}
		if len(c.Sources.Enabled) == 0 {
			problems = append(problems, "sources.enabled must name at least one provider")
		}
		switch c.Snapshot.Driver {
		case "sqlite":
			if c.Snapshot.Path == "" {
				problems = append(problems, "snapshot.path is required for the sqlite driver")
			}
		case "postgres":
			if c.Snapshot.DatabaseURL == "" {
				problems = append(problems, "snapshot.database_url is required for the postgres driver")
			}
		default:
			problems = append(problems, fmt.Sprintf("snapshot.driver must be sqlite or postgres, got %q", c.Snapshot.Driver))
		}
		if c.Snapshot.SyncIntervalMins <= 0 {
			problems = append(problems, "snapshot.sync_interval_mins must be > 0")
		}
	}

	switch mode {
	case "reconcile", "snapshot":
		check()
	case "serve":
		check()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Cache.TTLSecs <= 0 {
			problems = append(problems, "cache.ttl_secs must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
