package pipeline

import (
	"fmt"
	"time"
)

// Stage names one step of a pipeline run.
type Stage string

const (
	StageValidate Stage = "validate"
	StageDevice   Stage = "device"
	StageSource   Stage = "source"
	StageBuild    Stage = "build"
	StageKernel   Stage = "kernel"
	StageBuffers  Stage = "buffers"
	StageUpload   Stage = "upload"
	StageBind     Stage = "bind"
	StageGeometry Stage = "geometry"
	StageDispatch Stage = "dispatch"
	StageDownload Stage = "download"
	StageVerify   Stage = "verify"
	StageTeardown Stage = "teardown"
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Timing is the time spent in one stage. Stages run more than once, like
// dispatch in an iterative run, accumulate.
type Timing struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
	Calls    int           `json:"calls"`
}

// Event is reported to Options.Observe when a stage ends. Err is the stage
// failure, or for teardown the combined release failures.
type Event struct {
	Stage    Stage
	Duration time.Duration
	Err      error
}
