// Package monitoring collects run health figures, exposes Prometheus
// metrics, and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/model"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsRunning   int     `json:"runs_running"`
	RunsCompleted int     `json:"runs_completed"`
	RunsStopped   int     `json:"runs_stopped"`
	RunsFailed    int     `json:"runs_failed"`
	RunFailRate   float64 `json:"run_fail_rate"`

	LeadsAdded  int     `json:"leads_added"`
	Duplicates  int     `json:"duplicates"`
	NoEmail     int     `json:"no_email"`
	NoEmailRate float64 `json:"no_email_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs in the window that reached a terminal
// status.
func (s *MetricsSnapshot) Finished() int {
	return s.RunsCompleted + s.RunsStopped + s.RunsFailed
}

// StatsSource is the slice of the store the collector reads.
type StatsSource interface {
	CountLeads(ctx context.Context, since time.Time) (int, error)
	RunTotals(ctx context.Context, since time.Time) (model.RunTotals, error)
}

// Collector gathers figures from the store.
type Collector struct {
	store StatsSource
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsSource) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Dashboard returns the all-time dashboard figures. Today's leads count
// from local midnight.
func (c *Collector) Dashboard(ctx context.Context) (model.DashboardStats, error) {
	total, err := c.store.CountLeads(ctx, time.Time{})
	if err != nil {
		return model.DashboardStats{}, eris.Wrap(err, "monitoring: count leads")
	}

	now := c.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := c.store.CountLeads(ctx, midnight)
	if err != nil {
		return model.DashboardStats{}, eris.Wrap(err, "monitoring: count today's leads")
	}

	runs, err := c.store.RunTotals(ctx, time.Time{})
	if err != nil {
		return model.DashboardStats{}, eris.Wrap(err, "monitoring: run totals")
	}

	return model.NewDashboardStats(total, today, runs), nil
}

// Collect gathers a snapshot of runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now.UTC(),
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	t, err := c.store.RunTotals(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: run totals")
	}

	snap.RunsTotal = t.Total
	snap.RunsRunning = t.Running
	snap.RunsCompleted = t.Completed
	snap.RunsStopped = t.Stopped
	snap.RunsFailed = t.Failed
	snap.LeadsAdded = t.LeadsAdded
	snap.Duplicates = t.Duplicates
	snap.NoEmail = t.NoEmail

	if finished := snap.Finished(); finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if attempted := t.LeadsAdded + t.NoEmail; attempted > 0 {
		snap.NoEmailRate = float64(t.NoEmail) / float64(attempted)
	}

	return snap, nil
}
