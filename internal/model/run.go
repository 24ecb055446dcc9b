package model

import "time"

// RunStatus represents the current state of a lead collection run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunStatusRunning || s.Terminal()
}

// Run is one execution of the discovery and extraction pipeline for a
// city and keyword.
type Run struct {
	ID           string     `json:"id"`
	City         string     `json:"city"`
	Keyword      string     `json:"keyword"`
	Status       RunStatus  `json:"status"`
	LeadsAdded   int        `json:"leadsAdded"`
	Duplicates   int        `json:"duplicates"`
	NoEmail      int        `json:"noEmail"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Summary returns the run's counters.
func (r Run) Summary() RunSummary {
	return RunSummary{
		LeadsAdded: r.LeadsAdded,
		Duplicates: r.Duplicates,
		NoEmail:    r.NoEmail,
	}
}

// RunSummary holds the per-run outcome counters.
type RunSummary struct {
	LeadsAdded int `json:"added"`
	Duplicates int `json:"duplicates"`
	NoEmail    int `json:"noEmail"`
}

// Visited is the number of candidates that were fully processed.
func (s RunSummary) Visited() int {
	return s.LeadsAdded + s.Duplicates + s.NoEmail
}

// RunUpdate carries the fields to change on a run. Nil fields are left
// untouched.
type RunUpdate struct {
	Status       *RunStatus
	LeadsAdded   *int
	Duplicates   *int
	NoEmail      *int
	CompletedAt  *time.Time
	ErrorMessage *string
}

// ProgressUpdate builds an update that only writes counters.
func ProgressUpdate(s RunSummary) RunUpdate {
	return RunUpdate{
		LeadsAdded: &s.LeadsAdded,
		Duplicates: &s.Duplicates,
		NoEmail:    &s.NoEmail,
	}
}

// FinishUpdate builds an update moving a run into a terminal status with
// its final counters.
func FinishUpdate(status RunStatus, s RunSummary, at time.Time, errMsg string) RunUpdate {
	u := ProgressUpdate(s)
	u.Status = &status
	u.CompletedAt = &at
	if errMsg != "" {
		u.ErrorMessage = &errMsg
	}
	return u
}
