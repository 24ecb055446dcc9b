package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadstorm/internal/model"
)

// fakeStats implements StatsSource and records the cutoffs it was asked for.
type fakeStats struct {
	leads       int
	leadsSince  int
	totals      model.RunTotals
	countErr    error
	totalsErr   error
	countSince  []time.Time
	totalsSince []time.Time
}

func (f *fakeStats) CountLeads(_ context.Context, since time.Time) (int, error) {
	f.countSince = append(f.countSince, since)
	if f.countErr != nil {
		return 0, f.countErr
	}
	if since.IsZero() {
		return f.leads, nil
	}
	return f.leadsSince, nil
}

func (f *fakeStats) RunTotals(_ context.Context, since time.Time) (model.RunTotals, error) {
	f.totalsSince = append(f.totalsSince, since)
	return f.totals, f.totalsErr
}

func fixedCollector(st StatsSource, now time.Time) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Dashboard(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, loc)
	st := &fakeStats{
		leads:      42,
		leadsSince: 7,
		totals:     model.RunTotals{Total: 4, Completed: 3, Failed: 1, CompletedLeads: 20},
	}

	stats, err := fixedCollector(st, now).Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.DashboardStats{
		TotalLeads:     42,
		TodaysLeads:    7,
		TotalRuns:      4,
		SuccessRate:    75,
		AvgLeadsPerRun: 7,
	}, stats)

	require.Len(t, st.countSince, 2)
	assert.True(t, st.countSince[0].IsZero())
	assert.True(t, st.countSince[1].Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, loc)))
}

func TestCollector_DashboardEmpty(t *testing.T) {
	stats, err := NewCollector(&fakeStats{}).Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DashboardStats{}, stats)
}

func TestCollector_DashboardError(t *testing.T) {
	_, err := NewCollector(&fakeStats{countErr: errors.New("disk gone")}).Dashboard(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count leads")
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	st := &fakeStats{totals: model.RunTotals{
		Total: 10, Running: 1, Completed: 6, Stopped: 1, Failed: 2,
		LeadsAdded: 30, Duplicates: 4, NoEmail: 10,
	}}

	snap, err := fixedCollector(st, now).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 10, snap.RunsTotal)
	assert.Equal(t, 9, snap.Finished())
	assert.InDelta(t, 2.0/9.0, snap.RunFailRate, 1e-9)
	assert.InDelta(t, 0.25, snap.NoEmailRate, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)

	require.Len(t, st.totalsSince, 1)
	assert.Equal(t, now.Add(-24*time.Hour), st.totalsSince[0])
}

func TestCollector_CollectNoFinishedRuns(t *testing.T) {
	st := &fakeStats{totals: model.RunTotals{Total: 2, Running: 2}}

	snap, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 0.0, snap.NoEmailRate)
}

func TestCollector_CollectError(t *testing.T) {
	st := &fakeStats{totalsErr: errors.New("locked")}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Nil(t, snap)
}
