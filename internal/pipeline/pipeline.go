// Package pipeline runs complete host-side compute jobs: validate the
// problem, open a device, build the program, move data, dispatch, read back,
// verify against a host reference and tear everything down.
package pipeline

import (
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/compute/driver"
	"github.com/cwbudde/clpipe/internal/kernels"
)

// DefaultTolerance bounds the verification error, relative to the largest
// reference magnitude (never below 1).
const DefaultTolerance = 1e-5

// Options are shared by every pipeline.
type Options struct {
	// Driver is used as is when set. Otherwise the device stage constructs
	// the driver named by Backend.
	Driver       driver.Driver
	Backend      string
	DeviceClass  driver.DeviceClass
	Platform     int // -1 scans every platform
	Fallback     bool
	BuildOptions string
	// KernelPath replaces the embedded program source when set.
	KernelPath string
	// Local overrides the pipeline's work-group size.
	Local     []int
	Tolerance float64
	Logger    *slog.Logger
	// Observe, when set, is called after every stage.
	Observe func(Event)
}

// Result describes a finished or failed run. Fields are filled as far as the
// run got.
type Result struct {
	Pipeline    string        `json:"pipeline"`
	Driver      string        `json:"driver,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Device      string        `json:"device,omitempty"`
	Global      []int         `json:"global,omitempty"`
	Local       []int         `json:"local,omitempty"`
	Padded      bool          `json:"padded,omitempty"`
	Iterations  int           `json:"iterations,omitempty"`
	MaxAbsError float64       `json:"max_abs_error"`
	Digest      uint64        `json:"digest,omitempty"`
	Timings     []Timing      `json:"timings"`
	Elapsed     time.Duration `json:"elapsed"`
	Output      []float32     `json:"-"`
	Reference   []float32     `json:"-"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
}

type runner struct {
	opts   Options
	name   string
	result *Result
	logger *slog.Logger
	sess   *compute.Session
	start  time.Time
}

func newRunner(name string, opts Options) *runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DeviceClass == "" {
		opts.DeviceClass = driver.ClassGPU
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	return &runner{
		opts:   opts,
		name:   name,
		result: &Result{Pipeline: name},
		logger: opts.Logger.With("pipeline", name),
		start:  time.Now(),
	}
}

// stage runs fn, records its duration and tags a failure with the stage.
func (r *runner) stage(s Stage, fn func() error) error {
	begin := time.Now()
	err := fn()
	elapsed := time.Since(begin)
	r.record(s, elapsed)
	r.observe(s, elapsed, err)
	if err != nil {
		r.result.FailedStage = s
		r.logger.Error("Stage failed", "stage", s, "error", err)
		return &StageError{Stage: s, Err: err}
	}
	r.logger.Debug("Stage complete", "stage", s)
	return nil
}

func (r *runner) observe(s Stage, d time.Duration, err error) {
	if r.opts.Observe != nil {
		r.opts.Observe(Event{Stage: s, Duration: d, Err: err})
	}
}

func (r *runner) record(s Stage, d time.Duration) {
	for i := range r.result.Timings {
		if r.result.Timings[i].Stage == s {
			r.result.Timings[i].Duration += d
			r.result.Timings[i].Calls++
			return
		}
	}
	r.result.Timings = append(r.result.Timings, Timing{Stage: s, Duration: d, Calls: 1})
}

func (r *runner) open() error {
	return r.stage(StageDevice, func() error {
		drv := r.opts.Driver
		if drv == nil {
			var err error
			if drv, err = NewDriver(r.opts.Backend); err != nil {
				return err
			}
		}
		sess, err := compute.Open(drv,
			compute.WithDeviceClass(r.opts.DeviceClass),
			compute.WithPlatform(r.opts.Platform),
			compute.WithFallback(r.opts.Fallback),
			compute.WithLogger(r.opts.Logger),
		)
		if err != nil {
			return err
		}
		r.sess = sess
		r.result.Driver = sess.DriverName()
		r.result.Platform = sess.Platform().Name
		r.result.Device = sess.Device().Name
		return nil
	})
}

// close tears the session down. Failures are logged, never returned: the run
// outcome was decided before teardown.
func (r *runner) close() {
	if r.sess != nil {
		begin := time.Now()
		err := r.sess.Close()
		for _, e := range multierr.Errors(err) {
			r.logger.Warn("Teardown failure", "error", e)
		}
		elapsed := time.Since(begin)
		r.record(StageTeardown, elapsed)
		r.observe(StageTeardown, elapsed, err)
	}
	r.result.Elapsed = time.Since(r.start)
}

// program loads, builds and extracts the entry point of the named embedded
// program or of the file given in the options.
func (r *runner) program(name string) (*compute.Kernel, error) {
	var (
		spec kernels.Program
		src  *compute.Source
		prog *compute.Program
		k    *compute.Kernel
	)
	if err := r.stage(StageSource, func() error {
		var err error
		if spec, err = kernels.Lookup(name); err != nil {
			return err
		}
		if r.opts.KernelPath != "" {
			src, err = compute.LoadSource(r.opts.KernelPath)
		} else {
			src, err = kernels.Source(name)
		}
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.stage(StageBuild, func() error {
		var err error
		if prog, err = r.sess.NewProgram(src); err != nil {
			return err
		}
		return prog.Build(r.opts.BuildOptions)
	}); err != nil {
		return nil, err
	}

	err := r.stage(StageKernel, func() error {
		var err error
		k, err = prog.Kernel(spec.Entry)
		return err
	})
	return k, err
}

func (r *runner) geometry(global, local []int, localMem int) (compute.Geometry, error) {
	// An empty override keeps the pipeline's own local size.
	if len(r.opts.Local) > 0 {
		local = r.opts.Local
	}
	var g compute.Geometry
	err := r.stage(StageGeometry, func() error {
		var err error
		g, err = r.sess.Geometry(global, local, localMem)
		return err
	})
	if err == nil {
		r.result.Global = g.Global
		r.result.Local = g.Local
		r.result.Padded = g.Padded()
		r.logger.Info("Work geometry", "geometry", g.String(), "padded", g.Padded())
	}
	return g, err
}

func (r *runner) verify(got, want []float32) error {
	return r.stage(StageVerify, func() error {
		r.result.Output = got
		r.result.Reference = want
		r.result.Digest = digest(got)
		r.result.MaxAbsError = kernels.MaxAbsError(got, want)

		scale := 1.0
		for _, v := range want {
			scale = math.Max(scale, math.Abs(float64(v)))
		}
		limit := r.opts.Tolerance * scale
		if math.IsNaN(r.result.MaxAbsError) || r.result.MaxAbsError > limit {
			return errors.Errorf("max abs error %g exceeds tolerance %g", r.result.MaxAbsError, limit)
		}
		r.logger.Info("Output verified", "max_abs_error", r.result.MaxAbsError, "digest", r.result.Digest)
		return nil
	})
}

func digest(values []float32) uint64 {
	hasher := fnv.New64a()
	buf := make([]byte, 4)
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		_, _ = hasher.Write(buf)
	}
	return hasher.Sum64()
}

func positive(what string, v int) error {
	if v <= 0 {
		return errors.Errorf("%s must be positive, got %d", what, v)
	}
	return nil
}
