package runner

import "github.com/rotisserie/eris"

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = eris.New("runner: invalid request")
	// ErrNotFound is returned for an unknown run id.
	ErrNotFound = eris.New("runner: run not found")
	// ErrNotRunning is returned when stopping a run that already finished.
	ErrNotRunning = eris.New("runner: run is not running")
	// ErrBusy is returned when history is cleared while runs are active.
	ErrBusy = eris.New("runner: runs are in progress")
	// ErrRunFailed is returned by RunAndWait when the run ends failed.
	ErrRunFailed = eris.New("runner: run failed")
)

// ValidationError rejects a request before any run is created.
type ValidationError struct {
	msg string
}

func invalid(msg string) error { return &ValidationError{msg: msg} }

func (e *ValidationError) Error() string { return e.msg }

// Is reports ErrValidation as a match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
