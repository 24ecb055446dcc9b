package model

import "math"

// RunTotals aggregates run records. Counter sums cover every run in the
// window; CompletedLeads covers completed runs only.
type RunTotals struct {
	Total          int `json:"total"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	Stopped        int `json:"stopped"`
	Failed         int `json:"failed"`
	LeadsAdded     int `json:"leadsAdded"`
	Duplicates     int `json:"duplicates"`
	NoEmail        int `json:"noEmail"`
	CompletedLeads int `json:"completedLeads"`
}

// Finished is the number of runs in a terminal state.
func (t RunTotals) Finished() int {
	return t.Completed + t.Stopped + t.Failed
}

// DashboardStats summarises the lead and run history.
type DashboardStats struct {
	TotalLeads     int `json:"totalLeads"`
	TodaysLeads    int `json:"todaysLeads"`
	TotalRuns      int `json:"totalRuns"`
	SuccessRate    int `json:"successRate"`
	AvgLeadsPerRun int `json:"avgLeadsPerRun"`
}

// NewDashboardStats derives the dashboard figures. SuccessRate is the
// rounded percentage of all runs that completed; AvgLeadsPerRun averages
// over completed runs only.
func NewDashboardStats(totalLeads, todaysLeads int, runs RunTotals) DashboardStats {
	s := DashboardStats{
		TotalLeads:  totalLeads,
		TodaysLeads: todaysLeads,
		TotalRuns:   runs.Total,
	}
	if runs.Total > 0 {
		s.SuccessRate = int(math.Round(float64(runs.Completed) / float64(runs.Total) * 100))
	}
	if runs.Completed > 0 {
		s.AvgLeadsPerRun = int(math.Round(float64(runs.CompletedLeads) / float64(runs.Completed)))
	}
	return s
}
