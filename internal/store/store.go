package store

// Store persists run records.
//
// Error handling conventions:
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically writes the record, replacing any earlier record
	// with the same ID.
	SaveRun(record *RunRecord) error

	// LoadRun returns the record for the given run.
	LoadRun(runID string) (*RunRecord, error)

	// ListRuns returns metadata for every stored run, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run directory, including its stage trace.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
