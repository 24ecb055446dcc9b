package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/model"
)

var (
	// ErrNotFound is returned when a run or the settings row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrRunFinished is returned when an update targets a run that already
	// reached a terminal status.
	ErrRunFinished = eris.New("store: run already finished")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	City    string          `json:"city,omitempty"`
	Keyword string          `json:"keyword,omitempty"`
	Since   time.Time       `json:"since,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	City    string    `json:"city,omitempty"`
	Keyword string    `json:"keyword,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	// Limit of zero or less returns every matching lead.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// LeadRepository persists accepted leads. A lead is a duplicate when its
// place id is already stored, or when it carries a phone that an existing
// lead also carries.
type LeadRepository interface {
	LeadExists(ctx context.Context, externalID, phone string) (bool, error)
	// InsertLead stores lead unless it is a duplicate. The returned bool is
	// false, with a nil error, when a duplicate row won.
	InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, since time.Time) (int, error)
	ClearLeads(ctx context.Context) (int64, error)
}

// RunStore persists run records.
type RunStore interface {
	CreateRun(ctx context.Context, city, keyword string) (*model.Run, error)
	// UpdateRun applies u to a running run. Terminal runs are never
	// modified: ErrRunFinished is returned instead.
	UpdateRun(ctx context.Context, runID string, u model.RunUpdate) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	RunTotals(ctx context.Context, since time.Time) (model.RunTotals, error)
	ClearRuns(ctx context.Context) (int64, error)
	// MarkStaleRuns fails every run still marked running, for recovery
	// after a process exit.
	MarkStaleRuns(ctx context.Context, reason string) (int64, error)
}

// SettingsStore persists the single runtime settings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// Store defines the persistence interface for lead collection.
type Store interface {
	LeadRepository
	RunStore
	SettingsStore

	// ClearHistory deletes every lead and run in one transaction.
	ClearHistory(ctx context.Context) (leads, runs int64, err error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// nullIfEmpty maps an empty string to a SQL NULL so partial unique indexes
// ignore it.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const runColumns = `id, city, keyword, status, leads_added, duplicates, no_email, started_at, completed_at, error_message`

const leadColumns = `id, place_id, name, email, phone, website, address, city, keyword, created_at`

// runUpdateSet renders the SET clause for u. placeholder formats the n-th
// bind parameter for the dialect; numbering starts at first.
func runUpdateSet(u model.RunUpdate, first int, placeholder func(n int) string) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = "+placeholder(first+len(args)))
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.LeadsAdded != nil {
		add("leads_added", *u.LeadsAdded)
	}
	if u.Duplicates != nil {
		add("duplicates", *u.Duplicates)
	}
	if u.NoEmail != nil {
		add("no_email", *u.NoEmail)
	}
	if u.CompletedAt != nil {
		add("completed_at", u.CompletedAt.UTC())
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	return strings.Join(sets, ", "), args
}

func encodeSettings(s model.Settings) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, eris.Wrap(err, "store: marshal settings")
}

func decodeSettings(data []byte) (*model.Settings, error) {
	var s model.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal settings")
	}
	return &s, nil
}
