package config

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/store"
)

// Provider supplies the settings a run snapshots at start.
type Provider interface {
	Current() model.Settings
}

// Static is a Provider with fixed settings.
type Static model.Settings

func (s Static) Current() model.Settings { return model.Settings(s) }

// LiveProvider serves runtime-editable settings. Updates are validated,
// persisted, and visible to runs started afterwards.
type LiveProvider struct {
	mu      sync.RWMutex
	current model.Settings
	store   store.SettingsStore
}

// NewLiveProvider loads saved settings, falling back to defaults when none
// were saved. A saved row without a Places key inherits the key from
// defaults, which carries the environment.
func NewLiveProvider(ctx context.Context, defaults model.Settings, st store.SettingsStore) (*LiveProvider, error) {
	p := &LiveProvider{current: defaults, store: st}

	saved, err := st.GetSettings(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		zap.L().Debug("no saved settings, using configured defaults")
	case err != nil:
		return nil, eris.Wrap(err, "config: load settings")
	default:
		if saved.GooglePlacesKey == "" {
			saved.GooglePlacesKey = defaults.GooglePlacesKey
		}
		p.current = *saved
	}
	return p, nil
}

func (p *LiveProvider) Current() model.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Update validates and persists s. An empty or masked key keeps the
// current key.
func (p *LiveProvider) Update(ctx context.Context, s model.Settings) (model.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.GooglePlacesKey == "" || s.GooglePlacesKey == model.MaskedKey {
		s.GooglePlacesKey = p.current.GooglePlacesKey
	}
	if err := s.Validate(); err != nil {
		return model.Settings{}, &ValidationError{err: err}
	}
	if err := p.store.SaveSettings(ctx, s); err != nil {
		return model.Settings{}, eris.Wrap(err, "config: save settings")
	}
	p.current = s
	return s, nil
}

// ValidationError reports settings rejected by Update.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string { return e.err.Error() }

func (e *ValidationError) Unwrap() error { return e.err }
