package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/contact"
	"github.com/sells-group/leadstorm/internal/discovery"
	"github.com/sells-group/leadstorm/internal/enrich"
	"github.com/sells-group/leadstorm/internal/monitoring"
	"github.com/sells-group/leadstorm/internal/notify"
	"github.com/sells-group/leadstorm/internal/runner"
	"github.com/sells-group/leadstorm/internal/store"
	"github.com/sells-group/leadstorm/pkg/google"
)

// appEnv holds the store, settings, and coordinator shared by the serve
// and run commands.
type appEnv struct {
	Store       store.Store
	Settings    *config.LiveProvider
	Coordinator *runner.Coordinator
	Notifier    *notify.Multi
	Collector   *monitoring.Collector
}

// Close stops active runs and releases resources. Runs finish before the
// notifier and store are closed.
func (e *appEnv) Close() {
	if e.Coordinator != nil {
		e.Coordinator.Close()
	}
	if e.Notifier != nil {
		if err := e.Notifier.Close(); err != nil {
			zap.L().Warn("close notifiers", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens the store, and builds the run
// coordinator. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	env.Settings, err = config.NewLiveProvider(ctx, cfg.Settings(), st)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Notifier, err = notify.New(cfg.Notify)
	if err != nil {
		env.Close()
		return nil, err
	}
	if env.Notifier.Len() > 0 {
		zap.L().Info("run notifications enabled", zap.Int("channels", env.Notifier.Len()))
	}

	var gopts []google.Option
	if cfg.Google.BaseURL != "" {
		gopts = append(gopts, google.WithBaseURL(cfg.Google.BaseURL))
	}
	if cfg.Google.UserAgent != "" {
		gopts = append(gopts, google.WithUserAgent(cfg.Google.UserAgent))
	}
	places := google.NewFactory(gopts...)

	disc := discovery.New(places, nil, discovery.Options{
		MaxPages:       cfg.Discovery.MaxPages,
		PageTokenDelay: cfg.Discovery.PageDelay(),
		MinResults:     cfg.Discovery.MinResults,
		Radius:         cfg.Discovery.Radius,
		PlaceType:      cfg.Discovery.PlaceType,
		QPS:            cfg.Discovery.QPS,
	})

	xopts := []contact.Option{
		contact.WithHTTPClient(contact.NewHTTPClient(cfg.Fetch.Timeout(), cfg.Fetch.MaxRedirects)),
	}
	if cfg.Fetch.MaxBodyBytes > 0 {
		xopts = append(xopts, contact.WithMaxBodyBytes(cfg.Fetch.MaxBodyBytes))
	}

	env.Coordinator = runner.New(st, env.Settings, disc, enrich.New(places), contact.New(xopts...),
		runner.WithNotifier(env.Notifier),
	)
	env.Collector = monitoring.NewCollector(st)

	return env, nil
}
