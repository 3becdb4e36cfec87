package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Census  CensusConfig  `yaml:"census" mapstructure:"census"`
	Overlay OverlayConfig `yaml:"overlay" mapstructure:"overlay"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SourcesConfig locates the precinct inputs. Values may be paths or URLs.
type SourcesConfig struct {
	CSV          string `yaml:"csv" mapstructure:"csv"`
	GeoJSON      string `yaml:"geojson" mapstructure:"geojson"`
	Shapefile    string `yaml:"shapefile" mapstructure:"shapefile"`
	Full         string `yaml:"full" mapstructure:"full"`
	Labels       string `yaml:"labels" mapstructure:"labels"`
	FeatureIDKey string `yaml:"feature_id_key" mapstructure:"feature_id_key"`
	RowIDColumn  string `yaml:"row_id_column" mapstructure:"row_id_column"`
}

// CatalogConfig points at an optional YAML metric catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CensusConfig holds Census Data API and FCC settings.
type CensusConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Year        int     `yaml:"year" mapstructure:"year"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	FCCURL      string  `yaml:"fcc_url" mapstructure:"fcc_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OverlayConfig configures the Overpass client and the overlay cache.
type OverlayConfig struct {
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Cache     string        `yaml:"cache" mapstructure:"cache"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxItems  int           `yaml:"max_items" mapstructure:"max_items"`
	Redis     RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig locates the redis overlay cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// FetchConfig configures source downloads and chunk fetching.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DelayMs     int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	Restore     bool   `yaml:"restore" mapstructure:"restore"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownSecs    int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	LoadFullOnStart bool     `yaml:"load_full_on_start" mapstructure:"load_full_on_start"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Overlay cache backends.
const (
	CacheMemory = "memory"
	CacheStore  = "store"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRECINCT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "precinct-map.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("sources.csv", "data/precincts.csv")
	v.SetDefault("sources.geojson", "data/precincts.geojson")
	v.SetDefault("sources.shapefile", "")
	v.SetDefault("sources.full", "data/precinct_acs_full.json")
	v.SetDefault("sources.labels", "data/acs_variable_labels.csv")
	v.SetDefault("sources.feature_id_key", "PRECINCT")
	v.SetDefault("sources.row_id_column", "Precinct_ID")
	v.SetDefault("catalog.path", "")
	v.SetDefault("census.key", "")
	v.SetDefault("census.year", 2022)
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.fcc_url", "https://geo.fcc.gov/api/census/block/find")
	v.SetDefault("census.rate_limit", 6.0)
	v.SetDefault("census.timeout_secs", 30)
	v.SetDefault("overlay.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overlay.rate_limit", 1.0)
	v.SetDefault("overlay.cache", CacheMemory)
	v.SetDefault("overlay.ttl", 10*7*24*time.Hour)
	v.SetDefault("overlay.max_items", 256)
	v.SetDefault("overlay.redis.addr", "localhost:6379")
	v.SetDefault("overlay.redis.password", "")
	v.SetDefault("overlay.redis.db", 0)
	v.SetDefault("fetch.user_agent", "precinct-map/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.delay_ms", 0)
	v.SetDefault("fetch.restore", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_secs", 15)
	v.SetDefault("server.load_full_on_start", false)
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

// Validate checks the settings the given command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch strings.ToLower(c.Store.Driver) {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateSources()...)
		errs = append(errs, c.validateOverlay()...)
	case "fetch":
		errs = append(errs, c.validateSources()...)
		if c.Sources.Labels == "" {
			errs = append(errs, "sources.labels is required to resolve census codes")
		}
		if c.Census.Year < 2009 {
			errs = append(errs, "census.year must be 2009 or later")
		}
		if c.Census.RateLimit <= 0 {
			errs = append(errs, "census.rate_limit must be > 0")
		}
	case "export", "classify":
		errs = append(errs, c.validateSources()...)
	case "overlay":
		errs = append(errs, c.validateOverlay()...)
	case "migrate", "catalog":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSources() []string {
	if c.Sources.GeoJSON == "" && c.Sources.Shapefile == "" {
		return []string{"sources.geojson or sources.shapefile is required"}
	}
	return nil
}

func (c *Config) validateOverlay() []string {
	var errs []string
	switch c.Overlay.Cache {
	case CacheMemory, CacheStore, CacheNone:
	case CacheRedis:
		if c.Overlay.Redis.Addr == "" {
			errs = append(errs, "overlay.redis.addr is required for the redis cache")
		}
	default:
		errs = append(errs, "overlay.cache must be memory, store, redis or none")
	}
	if c.Overlay.TTL <= 0 {
		errs = append(errs, "overlay.ttl must be > 0")
	}
	if c.Overlay.RateLimit <= 0 {
		errs = append(errs, "overlay.rate_limit must be > 0")
	}
	return errs
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
