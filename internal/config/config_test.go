package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "precinct-map.db", cfg.Store.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "data/precincts.geojson", cfg.Sources.GeoJSON)
	assert.Equal(t, "PRECINCT", cfg.Sources.FeatureIDKey)
	assert.Equal(t, "Precinct_ID", cfg.Sources.RowIDColumn)
	assert.Equal(t, 2022, cfg.Census.Year)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.BaseURL)
	assert.InDelta(t, 6.0, cfg.Census.RateLimit, 0.001)
	assert.Equal(t, CacheMemory, cfg.Overlay.Cache)
	assert.Equal(t, 10*7*24*time.Hour, cfg.Overlay.TTL)
	assert.Equal(t, 256, cfg.Overlay.MaxItems)
	assert.True(t, cfg.Fetch.Restore)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/precincts
log:
  level: debug
  format: console
server:
  port: 9090
overlay:
  cache: redis
  ttl: 48h
  redis:
    addr: redis:6379
    db: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/precincts", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, CacheRedis, cfg.Overlay.Cache)
	assert.Equal(t, 48*time.Hour, cfg.Overlay.TTL)
	assert.Equal(t, "redis:6379", cfg.Overlay.Redis.Addr)
	assert.Equal(t, 2, cfg.Overlay.Redis.DB)
	// Defaults still apply for unset values
	assert.Equal(t, 2022, cfg.Census.Year)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("PRECINCT_STORE_DRIVER", "postgres")
	t.Setenv("PRECINCT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRECINCT_CENSUS_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("PRECINCT_CENSUS_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Census.Key)
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRECINCT_SERVER_PORT=1111\n"), 0o644))
	t.Setenv("PRECINCT_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	return &Config{
		Store:   StoreConfig{Driver: "sqlite", DSN: "test.db"},
		Sources: SourcesConfig{GeoJSON: "precincts.geojson", Labels: "labels.csv"},
		Census:  CensusConfig{Year: 2022, RateLimit: 6},
		Overlay: OverlayConfig{Cache: CacheMemory, TTL: time.Hour, RateLimit: 1},
		Server:  ServerConfig{Port: 8080},
	}
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "fetch", "export", "classify", "overlay", "migrate", "catalog"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/db"
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("migrate"))
}

func TestValidateSources(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.GeoJSON = ""
	err := cfg.Validate("export")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.geojson")

	cfg.Sources.Shapefile = "precincts.shp"
	assert.NoError(t, cfg.Validate("export"))
}

func TestValidateFetch(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.Labels = ""
	cfg.Census.Year = 1990
	cfg.Census.RateLimit = 0

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.labels")
	assert.Contains(t, err.Error(), "census.year")
	assert.Contains(t, err.Error(), "census.rate_limit")
}

func TestValidateOverlay(t *testing.T) {
	cfg := validDefaults()
	cfg.Overlay.Cache = "memcached"
	assert.Error(t, cfg.Validate("overlay"))

	cfg.Overlay.Cache = CacheRedis
	cfg.Overlay.Redis.Addr = ""
	err := cfg.Validate("overlay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlay.redis.addr")

	cfg = validDefaults()
	cfg.Overlay.TTL = 0
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlay.ttl")
}
