package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a fixed interval and posts alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	every     time.Duration
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	every := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		every:     every,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
// A failure left over from before a restart is reported without waiting a
// full interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.every),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.check(ctx, log)
		}
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// check returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect run health", zap.Error(err))
		return 0
	}
	SetWindowRates(snap)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: run health ok",
			zap.Int("finished_runs", snap.Finished()),
			zap.Int("no_email", snap.NoEmail),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alerts raised",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
