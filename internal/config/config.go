package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Throttle   ThrottleConfig   `yaml:"throttle" mapstructure:"throttle"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ThrottleConfig seeds the runtime settings until they are saved through
// the API.
type ThrottleConfig struct {
	DefaultCity        string  `yaml:"default_city" mapstructure:"default_city"`
	DefaultKeyword     string  `yaml:"default_keyword" mapstructure:"default_keyword"`
	DailyCap           int     `yaml:"daily_cap" mapstructure:"daily_cap"`
	RequestDelayMs     int     `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	MaxRunDurationMins int     `yaml:"max_run_duration_mins" mapstructure:"max_run_duration_mins"`
	RetryAttempts      int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	UserAgentRotation  bool    `yaml:"user_agent_rotation" mapstructure:"user_agent_rotation"`
}

// DiscoveryConfig tunes Places search paging.
type DiscoveryConfig struct {
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages"`
	PageDelayMs int     `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	MinResults  int     `yaml:"min_results" mapstructure:"min_results"`
	Radius      int     `yaml:"radius" mapstructure:"radius"`
	PlaceType   string  `yaml:"place_type" mapstructure:"place_type"`
	QPS         float64 `yaml:"qps" mapstructure:"qps"`
}

// FetchConfig bounds website fetches.
type FetchConfig struct {
	TimeoutSecs  int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRedirects int   `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// NotifyConfig configures run completion notifications. Each channel is
// enabled when its address is set.
type NotifyConfig struct {
	AMQP AMQPConfig `yaml:"amqp" mapstructure:"amqp"`
	Mail MailConfig `yaml:"mail" mapstructure:"mail"`
}

// AMQPConfig configures the run event publisher.
type AMQPConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	Exchange   string `yaml:"exchange" mapstructure:"exchange"`
	RoutingKey string `yaml:"routing_key" mapstructure:"routing_key"`
}

// MailConfig configures the run summary mailer.
type MailConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// MonitoringConfig configures run health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	NoEmailRateThreshold float64 `yaml:"no_email_rate_threshold" mapstructure:"no_email_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LockConfig configures the file lock held by scheduled runs.
type LockConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Settings returns the runtime settings seeded from the file and
// environment.
func (c *Config) Settings() model.Settings {
	return model.Settings{
		GooglePlacesKey:    c.Google.Key,
		DefaultCity:        c.Throttle.DefaultCity,
		DefaultKeyword:     c.Throttle.DefaultKeyword,
		DailyCap:           c.Throttle.DailyCap,
		RequestDelayMs:     c.Throttle.RequestDelayMs,
		MaxRunDurationMins: c.Throttle.MaxRunDurationMins,
		RetryAttempts:      c.Throttle.RetryAttempts,
		BackoffMultiplier:  c.Throttle.BackoffMultiplier,
		UserAgentRotation:  c.Throttle.UserAgentRotation,
	}
}

// PageDelay returns the wait before a next-page token is used.
func (d DiscoveryConfig) PageDelay() time.Duration {
	return time.Duration(d.PageDelayMs) * time.Millisecond
}

// Timeout returns the per-request website fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSTORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("google.key", "LEADSTORM_GOOGLE_KEY", "GOOGLE_PLACES_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadstorm.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("google.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("throttle.default_city", "New York")
	v.SetDefault("throttle.default_keyword", "restaurants")
	v.SetDefault("throttle.daily_cap", 50)
	v.SetDefault("throttle.request_delay_ms", 1000)
	v.SetDefault("throttle.max_run_duration_mins", 30)
	v.SetDefault("throttle.retry_attempts", 3)
	v.SetDefault("throttle.backoff_multiplier", 2.0)
	v.SetDefault("throttle.user_agent_rotation", true)
	v.SetDefault("discovery.max_pages", 3)
	v.SetDefault("discovery.page_delay_ms", 2000)
	v.SetDefault("discovery.min_results", 50)
	v.SetDefault("discovery.radius", 25000)
	v.SetDefault("discovery.place_type", "establishment")
	v.SetDefault("fetch.timeout_secs", 10)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("notify.amqp.exchange", "leadstorm.runs")
	v.SetDefault("notify.amqp.routing_key", "run.finished")
	v.SetDefault("notify.mail.port", 587)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.no_email_rate_threshold", 0.95)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("lock.path", "leadstorm.lock")

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
