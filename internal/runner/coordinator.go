// Package runner drives lead collection runs from discovery to persisted
// leads and owns each run's status transitions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/contact"
	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/monitoring"
	"github.com/sells-group/leadstorm/internal/notify"
	"github.com/sells-group/leadstorm/internal/resilience"
	"github.com/sells-group/leadstorm/internal/store"
)

// defaultCap applies when neither the request nor the settings set one.
const defaultCap = 50

// Discoverer finds the candidate places for a run.
type Discoverer interface {
	Discover(ctx context.Context, city, keyword, apiKey string) ([]model.Place, error)
}

// Enricher fills in details for a place found without a website.
type Enricher interface {
	Enrich(ctx context.Context, place model.Place, apiKey string) model.Place
}

// Extractor finds a contact email on a website.
type Extractor interface {
	Extract(ctx context.Context, website string, p contact.Params) (string, bool)
}

// Store is the persistence the coordinator needs.
type Store interface {
	store.LeadRepository
	store.RunStore
	ClearHistory(ctx context.Context) (leads, runs int64, err error)
}

// StartRequest names what a run collects. MaxLeads overrides the daily
// cap when positive.
type StartRequest struct {
	City     string `json:"city"`
	Keyword  string `json:"keyword"`
	MaxLeads int    `json:"maxLeads,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier announces finished runs.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithRegistry shares a registry instead of creating one.
func WithRegistry(r *Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// Coordinator starts, tracks and stops runs. Each run executes
// sequentially in its own goroutine.
type Coordinator struct {
	store     Store
	settings  config.Provider
	discovery Discoverer
	enricher  Enricher
	extractor Extractor
	notifier  notify.Notifier
	registry  *Registry

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	wg    sync.WaitGroup
}

// New creates a Coordinator.
func New(st Store, settings config.Provider, d Discoverer, e Enricher, x Extractor, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     st,
		settings:  settings,
		discovery: d,
		enricher:  e,
		extractor: x,
		notifier:  notify.Nop{},
		registry:  NewRegistry(),
		sleep:     resilience.Sleep,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EffectiveCap is the lead limit for a run.
func EffectiveCap(maxLeads, dailyCap int) int {
	switch {
	case maxLeads > 0:
		return maxLeads
	case dailyCap > 0:
		return dailyCap
	default:
		return defaultCap
	}
}

// Start creates a run and executes it in the background. The returned
// record is the run as created, in status running.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*model.Run, error) {
	run, s, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.process(bg, *run, s, EffectiveCap(req.MaxLeads, s.DailyCap))
	}()

	return run, nil
}

// RunAndWait executes a run in the caller's goroutine and returns the
// final record; Summary on it gives the counters. Cancelling ctx requests
// a stop: the current candidate finishes and the run is recorded as
// stopped.
func (c *Coordinator) RunAndWait(ctx context.Context, req StartRequest) (*model.Run, error) {
	run, s, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	c.wg.Add(1)
	defer c.wg.Done()

	release := context.AfterFunc(ctx, func() { c.registry.RequestStop(run.ID) })
	defer release()

	final := c.process(context.WithoutCancel(ctx), *run, s, EffectiveCap(req.MaxLeads, s.DailyCap))
	if final.Status == model.RunStatusFailed {
		return &final, eris.Wrap(ErrRunFailed, final.ErrorMessage)
	}
	return &final, nil
}

// begin validates the request against the current settings snapshot and
// registers a new run.
func (c *Coordinator) begin(ctx context.Context, req StartRequest) (*model.Run, model.Settings, error) {
	s := c.settings.Current()

	req.City = strings.TrimSpace(req.City)
	req.Keyword = strings.TrimSpace(req.Keyword)
	switch {
	case req.City == "" && req.Keyword == "":
		return nil, s, invalid("city and keyword are required")
	case req.City == "":
		return nil, s, invalid("city is required")
	case req.Keyword == "":
		return nil, s, invalid("keyword is required")
	case s.GooglePlacesKey == "":
		return nil, s, invalid("Google Places API key is not configured")
	case req.MaxLeads < 0:
		return nil, s, invalid("maxLeads must not be negative")
	}

	run, err := c.store.CreateRun(ctx, req.City, req.Keyword)
	if err != nil {
		return nil, s, eris.Wrap(err, "runner: create run")
	}
	c.registry.Register(run.ID)

	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.String("city", run.City),
		zap.String("keyword", run.Keyword),
		zap.Int("cap", EffectiveCap(req.MaxLeads, s.DailyCap)),
	)
	return run, s, nil
}

// RequestStop asks a running run to stop. A run executing in this process
// stops at the top of its next iteration and the returned record is still
// running. A run with no owner here is marked stopped directly.
func (c *Coordinator) RequestStop(ctx context.Context, runID string) (*model.Run, error) {
	run, err := c.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusRunning {
		return nil, eris.Wrapf(ErrNotRunning, "run %s is %s", runID, run.Status)
	}

	if c.registry.RequestStop(runID) {
		zap.L().Info("run stop requested", zap.String("run_id", runID))
		return run, nil
	}

	stopped := model.RunStatusStopped
	now := c.now().UTC()
	final, err := c.store.UpdateRun(ctx, runID, model.RunUpdate{Status: &stopped, CompletedAt: &now})
	switch {
	case errors.Is(err, store.ErrRunFinished):
		return nil, eris.Wrapf(ErrNotRunning, "run %s finished", runID)
	case err != nil:
		return nil, eris.Wrap(err, "runner: stop run")
	}
	zap.L().Info("run stopped without owner", zap.String("run_id", runID))
	return final, nil
}

// Get returns one run.
func (c *Coordinator) Get(ctx context.Context, runID string) (*model.Run, error) {
	run, err := c.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "runner: get run")
	}
	return run, nil
}

// List returns runs newest first.
func (c *Coordinator) List(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	runs, err := c.store.ListRuns(ctx, filter)
	return runs, eris.Wrap(err, "runner: list runs")
}

// ClearHistory deletes every lead and run. It refuses while any run is
// recorded as running, here or in another process.
func (c *Coordinator) ClearHistory(ctx context.Context) (leads, runs int64, err error) {
	if c.registry.Len() > 0 {
		return 0, 0, ErrBusy
	}
	totals, err := c.store.RunTotals(ctx, time.Time{})
	if err != nil {
		return 0, 0, eris.Wrap(err, "runner: count runs")
	}
	if totals.Running > 0 {
		return 0, 0, eris.Wrapf(ErrBusy, "%d runs still running", totals.Running)
	}
	leads, runs, err = c.store.ClearHistory(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "runner: clear history")
	}
	zap.L().Info("history cleared", zap.Int64("leads", leads), zap.Int64("runs", runs))
	return leads, runs, nil
}

// Active is the number of runs executing in this process.
func (c *Coordinator) Active() int {
	return c.registry.Len()
}

// Close requests a stop for every active run and waits for them to
// finish.
func (c *Coordinator) Close() {
	if n := c.registry.StopAll(); n > 0 {
		zap.L().Info("stopping active runs", zap.Int("runs", n))
	}
	c.wg.Wait()
}

// process executes run to a terminal status and returns the final record.
func (c *Coordinator) process(ctx context.Context, run model.Run, s model.Settings, limit int) model.Run {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("city", run.City), zap.String("keyword", run.Keyword))
	monitoring.IncActiveRuns()
	defer monitoring.DecActiveRuns()
	defer c.registry.Remove(run.ID)

	var sum model.RunSummary
	status, errMsg, err := c.guard(ctx, run, s, limit, &sum, log)

	var final model.Run
	if errors.Is(err, store.ErrRunFinished) {
		stored, ok := c.finishedElsewhere(ctx, run.ID, log)
		if !ok {
			return run
		}
		final = stored
	} else {
		final = c.finish(ctx, run, status, sum, errMsg, log)
	}

	monitoring.ObserveRun(string(final.Status))
	if err := c.notifier.RunFinished(ctx, final); err != nil {
		log.Warn("run notification failed", zap.Error(err))
	}
	return final
}

// guard runs the loop and turns its outcome, including a panic, into a
// terminal status. A store.ErrRunFinished error is returned as is.
func (c *Coordinator) guard(ctx context.Context, run model.Run, s model.Settings, limit int, sum *model.RunSummary, log *zap.Logger) (status model.RunStatus, errMsg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
			status, errMsg, err = model.RunStatusFailed, fmt.Sprintf("panic: %v", r), nil
		}
	}()

	stopped, err := c.loop(ctx, run, s, limit, sum, log)
	switch {
	case errors.Is(err, store.ErrRunFinished):
		return "", "", err
	case err != nil:
		log.Error("run failed", zap.Error(err))
		return model.RunStatusFailed, err.Error(), nil
	case stopped:
		return model.RunStatusStopped, "", nil
	default:
		return model.RunStatusCompleted, "", nil
	}
}

// loop visits candidates in discovery order until they run out, the cap
// or time budget is reached, or a stop is requested. It reports whether a
// stop was requested.
func (c *Coordinator) loop(ctx context.Context, run model.Run, s model.Settings, limit int, sum *model.RunSummary, log *zap.Logger) (bool, error) {
	var deadline time.Time
	if d := s.MaxRunDuration(); d > 0 {
		deadline = c.now().Add(d)
	}

	places, err := c.discovery.Discover(ctx, run.City, run.Keyword, s.GooglePlacesKey)
	if err != nil {
		return false, err
	}
	log.Info("candidates discovered", zap.Int("candidates", len(places)), zap.Int("cap", limit))

	params := contact.Params{
		RequestDelay:      s.RequestDelay(),
		RetryAttempts:     s.RetryAttempts,
		BackoffMultiplier: s.BackoffMultiplier,
		RotateUserAgent:   s.UserAgentRotation,
	}

	for _, p := range places {
		if c.registry.StopRequested(run.ID) {
			break
		}
		if sum.LeadsAdded >= limit {
			log.Info("lead cap reached", zap.Int("cap", limit))
			break
		}
		if !deadline.IsZero() && !c.now().Before(deadline) {
			log.Info("run time budget reached", zap.Duration("budget", s.MaxRunDuration()))
			break
		}

		if err := c.sleep(ctx, s.RequestDelay()); err != nil {
			return false, eris.Wrap(err, "runner: request delay")
		}

		out, err := c.visit(ctx, run, p, s.GooglePlacesKey, params)
		if err != nil {
			return false, err
		}
		switch out {
		case outcomeAdded:
			sum.LeadsAdded++
		case outcomeDuplicate:
			sum.Duplicates++
		default:
			sum.NoEmail++
		}
		monitoring.ObserveCandidate(string(out))
		log.Debug("candidate processed", zap.String("place_id", p.ExternalID), zap.String("outcome", string(out)))

		if _, err := c.store.UpdateRun(ctx, run.ID, model.ProgressUpdate(*sum)); err != nil {
			return false, eris.Wrap(err, "runner: save progress")
		}
	}

	return c.registry.StopRequested(run.ID), nil
}

type outcome string

const (
	outcomeAdded     outcome = "added"
	outcomeDuplicate outcome = "duplicate"
	outcomeNoWebsite outcome = "no_website"
	outcomeNoEmail   outcome = "no_email"
)

// visit processes one candidate. Only repository failures are errors.
func (c *Coordinator) visit(ctx context.Context, run model.Run, p model.Place, apiKey string, params contact.Params) (outcome, error) {
	dup, err := c.store.LeadExists(ctx, p.ExternalID, p.Phone)
	if err != nil {
		return "", eris.Wrap(err, "runner: duplicate check")
	}
	if dup {
		return outcomeDuplicate, nil
	}

	if p.Website == "" {
		p = c.enricher.Enrich(ctx, p, apiKey)
	}
	if p.Website == "" {
		return outcomeNoWebsite, nil
	}

	email, ok := c.extractor.Extract(ctx, p.Website, params)
	if !ok {
		return outcomeNoEmail, nil
	}

	_, inserted, err := c.store.InsertLead(ctx, model.NewLead(p, email, run.City, run.Keyword))
	if err != nil {
		return "", eris.Wrap(err, "runner: insert lead")
	}
	if !inserted {
		return outcomeDuplicate, nil
	}
	return outcomeAdded, nil
}

// finish persists the terminal status with the final counters. A run that
// was already finished elsewhere keeps its stored record. When the write
// fails the returned record is built in memory.
func (c *Coordinator) finish(ctx context.Context, run model.Run, status model.RunStatus, sum model.RunSummary, errMsg string, log *zap.Logger) model.Run {
	at := c.now().UTC()
	final, err := c.store.UpdateRun(ctx, run.ID, model.FinishUpdate(status, sum, at, errMsg))
	if errors.Is(err, store.ErrRunFinished) {
		if stored, ok := c.finishedElsewhere(ctx, run.ID, log); ok {
			return stored
		}
	}
	if err == nil {
		log.Info("run finished",
			zap.String("status", string(final.Status)),
			zap.Int("leads_added", final.LeadsAdded),
			zap.Int("duplicates", final.Duplicates),
			zap.Int("no_email", final.NoEmail),
		)
		return *final
	}

	log.Error("failed to record run result", zap.String("status", string(status)), zap.Error(err))
	run.Status = status
	run.LeadsAdded, run.Duplicates, run.NoEmail = sum.LeadsAdded, sum.Duplicates, sum.NoEmail
	run.CompletedAt = &at
	run.ErrorMessage = errMsg
	return run
}

// finishedElsewhere loads a run that another owner moved to a terminal
// status; that record stands.
func (c *Coordinator) finishedElsewhere(ctx context.Context, runID string, log *zap.Logger) (model.Run, bool) {
	log.Info("run finished by another owner")
	stored, err := c.store.GetRun(ctx, runID)
	if err != nil {
		log.Error("failed to load finished run", zap.Error(err))
		return model.Run{}, false
	}
	return *stored, true
}
