package store

import (
	"time"

	"github.com/google/uuid"
)

// Run outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunConfig is the pipeline configuration a run was started with. It mirrors
// the command-line settings so the store does not depend on the pipelines.
type RunConfig struct {
	Backend      string  `json:"backend"`
	DeviceClass  string  `json:"deviceClass"`
	Platform     int     `json:"platform"`
	Fallback     bool    `json:"fallback,omitempty"`
	BuildOptions string  `json:"buildOptions,omitempty"`
	KernelPath   string  `json:"kernelPath,omitempty"`
	N            int     `json:"n,omitempty"`
	Iterations   int     `json:"iterations,omitempty"`
	VectorN      int     `json:"vectorN,omitempty"`
	ElementN     int     `json:"elementN,omitempty"`
	Global       int     `json:"global,omitempty"`
	Local        []int   `json:"local,omitempty"`
	Tolerance    float64 `json:"tolerance"`
}

// StageTiming is the time spent in one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Calls    int           `json:"calls"`
}

// RunRecord is everything kept about one pipeline run.
type RunRecord struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`

	Driver   string `json:"driver,omitempty"`
	Platform string `json:"platform,omitempty"`
	Device   string `json:"device,omitempty"`
	Global   []int  `json:"global,omitempty"`
	Local    []int  `json:"local,omitempty"`
	Padded   bool   `json:"padded,omitempty"`

	Status      string        `json:"status"`
	FailedStage string        `json:"failedStage,omitempty"`
	Error       string        `json:"error,omitempty"`
	BuildLog    string        `json:"buildLog,omitempty"`
	MaxAbsError float64       `json:"maxAbsError"`
	Digest      string        `json:"digest,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Timings     []StageTiming `json:"timings,omitempty"`
}

// RunInfo is the listing view of a run.
type RunInfo struct {
	ID          string        `json:"id"`
	Pipeline    string        `json:"pipeline"`
	Timestamp   time.Time     `json:"timestamp"`
	Device      string        `json:"device"`
	Status      string        `json:"status"`
	FailedStage string        `json:"failedStage,omitempty"`
	MaxAbsError float64       `json:"maxAbsError"`
	Elapsed     time.Duration `json:"elapsed"`
}

// NewRunRecord starts a record for a run of the named pipeline with a fresh ID.
func NewRunRecord(pipeline string, config RunConfig) *RunRecord {
	return &RunRecord{
		ID:        uuid.New().String(),
		Pipeline:  pipeline,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a record to its listing view.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Pipeline:    r.Pipeline,
		Timestamp:   r.Timestamp,
		Device:      r.Device,
		Status:      r.Status,
		FailedStage: r.FailedStage,
		MaxAbsError: r.MaxAbsError,
		Elapsed:     r.Elapsed,
	}
}

// Validate checks the fields every stored record must carry.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return &ValidationError{Field: "ID", Reason: "must be a UUID"}
	}
	if r.Pipeline == "" {
		return &ValidationError{Field: "Pipeline", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	switch r.Status {
	case StatusOK:
		if r.FailedStage != "" {
			return &ValidationError{Field: "FailedStage", Reason: "must be empty for a successful run"}
		}
	case StatusFailed:
		if r.Error == "" {
			return &ValidationError{Field: "Error", Reason: "cannot be empty for a failed run"}
		}
	default:
		return &ValidationError{Field: "Status", Reason: "must be " + StatusOK + " or " + StatusFailed}
	}
	if r.Elapsed < 0 {
		return &ValidationError{Field: "Elapsed", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
