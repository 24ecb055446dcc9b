package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// MaskedKey replaces a configured API key in anything returned to callers.
const MaskedKey = "***CONFIGURED***"

// Settings is the runtime-editable configuration a run is throttled by.
// A run takes a snapshot at start and never mutates it.
type Settings struct {
	GooglePlacesKey    string  `json:"googlePlacesKey" yaml:"google_places_key" mapstructure:"google_places_key"`
	DefaultCity        string  `json:"defaultCity" yaml:"default_city" mapstructure:"default_city"`
	DefaultKeyword     string  `json:"defaultKeyword" yaml:"default_keyword" mapstructure:"default_keyword"`
	DailyCap           int     `json:"dailyCap" yaml:"daily_cap" mapstructure:"daily_cap"`
	RequestDelayMs     int     `json:"requestDelay" yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	MaxRunDurationMins int     `json:"maxRunDuration" yaml:"max_run_duration_mins" mapstructure:"max_run_duration_mins"`
	RetryAttempts      int     `json:"retryAttempts" yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BackoffMultiplier  float64 `json:"backoffMultiplier" yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	UserAgentRotation  bool    `json:"userAgentRotation" yaml:"user_agent_rotation" mapstructure:"user_agent_rotation"`
}

// RequestDelay returns the per-candidate pacing delay.
func (s Settings) RequestDelay() time.Duration {
	return time.Duration(s.RequestDelayMs) * time.Millisecond
}

// MaxRunDuration returns the run time budget, zero when unbounded.
func (s Settings) MaxRunDuration() time.Duration {
	return time.Duration(s.MaxRunDurationMins) * time.Minute
}

// Masked returns a copy safe to expose, with the API key hidden.
func (s Settings) Masked() Settings {
	if s.GooglePlacesKey != "" {
		s.GooglePlacesKey = MaskedKey
	}
	return s
}

// Validate checks the ranges an update must respect.
func (s Settings) Validate() error {
	switch {
	case s.DailyCap < 1:
		return eris.New("dailyCap must be at least 1")
	case s.RequestDelayMs < 0:
		return eris.New("requestDelay must not be negative")
	case s.MaxRunDurationMins < 0:
		return eris.New("maxRunDuration must not be negative")
	case s.RetryAttempts < 1:
		return eris.New("retryAttempts must be at least 1")
	case s.BackoffMultiplier < 1:
		return eris.New("backoffMultiplier must be at least 1")
	}
	return nil
}
