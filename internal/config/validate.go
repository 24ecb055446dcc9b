package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings the given command mode depends on. Every
// problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateRun()...)
		errs = append(errs, c.validateMonitoring()...)
	case "run":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateRun()...)
		if c.Lock.Path == "" {
			errs = append(errs, "lock.path is required")
		}
	case "cli":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateNotify()...)

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateRun() []string {
	var errs []string
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, "throttle: "+err.Error())
	}
	if c.Discovery.MaxPages < 1 || c.Discovery.MaxPages > 3 {
		errs = append(errs, "discovery.max_pages must be between 1 and 3")
	}
	if c.Discovery.PageDelayMs < 0 {
		errs = append(errs, "discovery.page_delay_ms must be >= 0")
	}
	if c.Discovery.QPS < 0 {
		errs = append(errs, "discovery.qps must be >= 0")
	}
	if c.Fetch.TimeoutSecs <= 0 {
		errs = append(errs, "fetch.timeout_secs must be > 0")
	}
	if c.Fetch.MaxRedirects < 0 {
		errs = append(errs, "fetch.max_redirects must be >= 0")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	if c.Monitoring.WebhookURL == "" {
		return nil
	}
	var errs []string
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.NoEmailRateThreshold < 0 || c.Monitoring.NoEmailRateThreshold > 1 {
		errs = append(errs, "monitoring.no_email_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.LookbackWindowHours <= 0 {
		errs = append(errs, "monitoring.lookback_window_hours must be > 0")
	}
	return errs
}

func (c *Config) validateNotify() []string {
	var errs []string
	if m := c.Notify.Mail; m.Host != "" {
		if m.From == "" {
			errs = append(errs, "notify.mail.from is required when notify.mail.host is set")
		}
		if len(m.To) == 0 {
			errs = append(errs, "notify.mail.to is required when notify.mail.host is set")
		}
	}
	if a := c.Notify.AMQP; a.URL != "" && a.Exchange == "" {
		errs = append(errs, "notify.amqp.exchange is required when notify.amqp.url is set")
	}
	return errs
}
