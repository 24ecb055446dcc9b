package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadstorm.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "New York", cfg.Throttle.DefaultCity)
	assert.Equal(t, "restaurants", cfg.Throttle.DefaultKeyword)
	assert.Equal(t, 50, cfg.Throttle.DailyCap)
	assert.Equal(t, 1000, cfg.Throttle.RequestDelayMs)
	assert.Equal(t, 30, cfg.Throttle.MaxRunDurationMins)
	assert.Equal(t, 3, cfg.Throttle.RetryAttempts)
	assert.InDelta(t, 2.0, cfg.Throttle.BackoffMultiplier, 0.001)
	assert.True(t, cfg.Throttle.UserAgentRotation)
	assert.Equal(t, 3, cfg.Discovery.MaxPages)
	assert.Equal(t, 2000, cfg.Discovery.PageDelayMs)
	assert.Equal(t, 50, cfg.Discovery.MinResults)
	assert.Equal(t, 25000, cfg.Discovery.Radius)
	assert.Equal(t, "establishment", cfg.Discovery.PlaceType)
	assert.Equal(t, 10, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 5, cfg.Fetch.MaxRedirects)
	assert.Equal(t, int64(2<<20), cfg.Fetch.MaxBodyBytes)
	assert.Equal(t, "leadstorm.runs", cfg.Notify.AMQP.Exchange)
	assert.Equal(t, 587, cfg.Notify.Mail.Port)
	assert.Equal(t, "leadstorm.lock", cfg.Lock.Path)
	assert.Empty(t, cfg.Google.Key)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leads
  pool:
    max_conns: 4
log:
  level: debug
  format: console
server:
  port: 9090
throttle:
  daily_cap: 10
  backoff_multiplier: 1.5
notify:
  mail:
    host: smtp.example.org
    to: [ops@leadstorm.test, sales@leadstorm.test]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Throttle.DailyCap)
	assert.InDelta(t, 1.5, cfg.Throttle.BackoffMultiplier, 0.001)
	assert.Equal(t, []string{"ops@leadstorm.test", "sales@leadstorm.test"}, cfg.Notify.Mail.To)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Throttle.RequestDelayMs)
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

	t.Setenv("LEADSTORM_STORE_DRIVER", "postgres")
	t.Setenv("LEADSTORM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadLegacyPlacesKeyEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_PLACES_KEY", "legacy-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Google.Key)
	assert.Equal(t, "legacy-key", cfg.Settings().GooglePlacesKey)
}

func TestLoadPrefixedKeyWins(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_PLACES_KEY", "legacy-key")
	t.Setenv("LEADSTORM_GOOGLE_KEY", "new-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "new-key", cfg.Google.Key)
}

func TestSettingsFromConfig(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, 50, s.DailyCap)
	assert.Equal(t, "New York", s.DefaultCity)
	assert.NoError(t, s.Validate())
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "leadstorm.db"
	cfg.Server.Port = 8080
	cfg.Throttle = ThrottleConfig{
		DailyCap:          50,
		RequestDelayMs:    1000,
		RetryAttempts:     3,
		BackoffMultiplier: 2,
	}
	cfg.Discovery = DiscoveryConfig{MaxPages: 3, PageDelayMs: 2000}
	cfg.Fetch = FetchConfig{TimeoutSecs: 10, MaxRedirects: 5}
	cfg.Lock.Path = "leadstorm.lock"
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateStore_Missing(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateRun_Throttle(t *testing.T) {
	cfg := validDefaults()
	cfg.Throttle.DailyCap = 0
	cfg.Discovery.MaxPages = 4

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dailyCap must be at least 1")
	assert.Contains(t, err.Error(), "discovery.max_pages must be between 1 and 3")
}

func TestValidateRun_LockPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Lock.Path = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lock.path is required")
}

func TestValidateMonitoringThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.WebhookURL = "https://hooks.test/alert"
	cfg.Monitoring.FailureRateThreshold = 1.5
	cfg.Monitoring.LookbackWindowHours = 24

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold")

	cfg.Monitoring.FailureRateThreshold = 0.2
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateNotifyMail(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.Mail.Host = "smtp.test"

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.mail.from is required")
	assert.Contains(t, err.Error(), "notify.mail.to is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
