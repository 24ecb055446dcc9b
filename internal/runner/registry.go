package runner

import "sync"

// Registry tracks the runs executing in this process and their stop
// flags. Entries exist from run start until the run reaches a terminal
// status.
type Registry struct {
	mu   sync.Mutex
	runs map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]bool)}
}

// Register adds a run with its stop flag cleared.
func (r *Registry) Register(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = false
}

// RequestStop raises the stop flag. It reports false when the run is not
// executing in this process.
func (r *Registry) RequestStop(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; !ok {
		return false
	}
	r.runs[runID] = true
	return true
}

// StopRequested reports whether the run's stop flag is raised.
func (r *Registry) StopRequested(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runID]
}

// StopAll raises every stop flag and returns how many runs were active.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.runs {
		r.runs[id] = true
	}
	return len(r.runs)
}

// Remove drops a finished run.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Len is the number of active runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
