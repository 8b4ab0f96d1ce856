package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/compute/driver"
	"github.com/cwbudde/clpipe/internal/compute/emulator"
	"github.com/cwbudde/clpipe/internal/kernels"
)

func newEmulator(opts ...emulator.Option) *emulator.Driver {
	drv := emulator.New(opts...)
	kernels.Register(drv)
	return drv
}

func testOptions(drv driver.Driver) Options {
	return Options{
		Driver:   drv,
		Platform: -1,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func failedStage(t *testing.T, err error) Stage {
	t.Helper()
	var serr *StageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StageError, got %T: %v", err, err)
	}
	return serr.Stage
}

func TestScalarProductScenario(t *testing.T) {
	drv := newEmulator()
	res, err := RunScalarProduct(ScalarProdConfig{VectorN: 4, ElementN: 4, Global: 16, Local: 16}, testOptions(drv))
	if err != nil {
		t.Fatalf("RunScalarProduct failed: %v", err)
	}

	a, b := kernels.ScalarProductInputs(4, 4)
	want := kernels.ScalarProduct(a, b, 4, 4)
	if len(res.Output) != len(want) {
		t.Fatalf("output has %d values, want %d", len(res.Output), len(want))
	}
	if res.MaxAbsError > 1e-5 {
		t.Errorf("max abs error %g", res.MaxAbsError)
	}
	if diff := cmp.Diff([]int{16}, res.Global); diff != "" {
		t.Errorf("global mismatch (-want +got):\n%s", diff)
	}
	if s := drv.Stats(); s.Enqueues != 1 {
		t.Errorf("expected one enqueue, got %d", s.Enqueues)
	}
}

func TestScalarProductMultipleGroups(t *testing.T) {
	drv := newEmulator()
	res, err := RunScalarProduct(ScalarProdConfig{VectorN: 8, ElementN: 100, Global: 64, Local: 16}, testOptions(drv))
	if err != nil {
		t.Fatalf("RunScalarProduct failed: %v", err)
	}
	if len(res.Output) != 8 {
		t.Errorf("output has %d values", len(res.Output))
	}
}

func TestScalarProductRejectsNonPowerOfTwoLocal(t *testing.T) {
	drv := newEmulator()
	_, err := RunScalarProduct(ScalarProdConfig{VectorN: 4, ElementN: 4, Local: 12}, testOptions(drv))
	if got := failedStage(t, err); got != StageValidate {
		t.Errorf("failed in %s, want validate", got)
	}
	if drv.Stats().PlatformQueries != 0 {
		t.Error("device was touched before validation")
	}
}

func TestJacobiScenario(t *testing.T) {
	for _, n := range []int{4, 8, 16} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			drv := newEmulator()
			res, err := RunJacobi(JacobiConfig{N: n}, testOptions(drv))
			if err != nil {
				t.Fatalf("N=%d: RunJacobi failed: %v", n, err)
			}
			want := kernels.JacobiStep(kernels.JacobiInput(n), n)
			if diff := cmp.Diff(want, res.Output); diff != "" {
				t.Errorf("N=%d: output mismatch (-want +got):\n%s", n, diff)
			}
			if diff := cmp.Diff([]int{4, 4}, res.Local); diff != "" {
				t.Errorf("N=%d: local mismatch (-want +got):\n%s", n, diff)
			}
			if res.Padded {
				t.Errorf("N=%d: geometry should not be padded", n)
			}
		})
	}
}

func TestJacobiIterationsPingPong(t *testing.T) {
	drv := newEmulator()
	res, err := RunJacobi(JacobiConfig{N: 8, Iterations: 5}, testOptions(drv))
	if err != nil {
		t.Fatalf("RunJacobi failed: %v", err)
	}
	want := kernels.Jacobi(kernels.JacobiInput(8), 8, 5)
	if diff := cmp.Diff(want, res.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if s := drv.Stats(); s.Enqueues != 5 {
		t.Errorf("expected 5 enqueues, got %d", s.Enqueues)
	}
	for _, tm := range res.Timings {
		if tm.Stage == StageDispatch && tm.Calls != 5 {
			t.Errorf("dispatch timing has %d calls", tm.Calls)
		}
	}
}

func TestJacobiPadsUnevenGrid(t *testing.T) {
	drv := newEmulator()
	res, err := RunJacobi(JacobiConfig{N: 10}, testOptions(drv))
	if err != nil {
		t.Fatalf("RunJacobi failed: %v", err)
	}
	if !res.Padded {
		t.Error("expected padded geometry")
	}
	if diff := cmp.Diff([]int{12, 12}, res.Global); diff != "" {
		t.Errorf("global mismatch (-want +got):\n%s", diff)
	}
	if len(res.Output) != 100 {
		t.Errorf("output has %d values, want 100", len(res.Output))
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	for _, n := range []int{1, 7, 256, 1000} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			res, err := RunIdentity(IdentityConfig{N: n}, testOptions(newEmulator()))
			if err != nil {
				t.Fatalf("RunIdentity failed: %v", err)
			}
			if len(res.Output) != n {
				t.Fatalf("output has %d values, want %d", len(res.Output), n)
			}
			if diff := cmp.Diff(kernels.Ramp(n), res.Output); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			if res.MaxAbsError != 0 {
				t.Errorf("max abs error %g", res.MaxAbsError)
			}
			if res.Digest == 0 {
				t.Error("digest not computed")
			}
		})
	}
}

func TestEmptyLocalOverrideKeepsDefaults(t *testing.T) {
	runs := map[string]func(Options) (*Result, error){
		"identity": func(o Options) (*Result, error) {
			return RunIdentity(IdentityConfig{N: 64}, o)
		},
		"jacobi": func(o Options) (*Result, error) {
			return RunJacobi(JacobiConfig{N: 8}, o)
		},
		"scalarprod": func(o Options) (*Result, error) {
			return RunScalarProduct(ScalarProdConfig{VectorN: 4, ElementN: 4}, o)
		},
	}
	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(newEmulator())
			opts.Local = []int{}
			if _, err := run(opts); err != nil {
				t.Fatalf("run with empty local override failed: %v", err)
			}
		})
	}
}

func TestLocalOverride(t *testing.T) {
	opts := testOptions(newEmulator())
	opts.Local = []int{2, 8}
	res, err := RunJacobi(JacobiConfig{N: 8}, opts)
	if err != nil {
		t.Fatalf("RunJacobi failed: %v", err)
	}
	if diff := cmp.Diff([]int{2, 8}, res.Local); diff != "" {
		t.Errorf("local mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendResolvedInDeviceStage(t *testing.T) {
	opts := testOptions(nil)
	opts.Backend = "vulkan"

	_, err := RunJacobi(JacobiConfig{N: 0}, opts)
	if got := failedStage(t, err); got != StageValidate {
		t.Errorf("failed in %s, want validate", got)
	}

	_, err = RunJacobi(JacobiConfig{N: 4}, opts)
	if got := failedStage(t, err); got != StageDevice {
		t.Errorf("failed in %s, want device", got)
	}
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected unknown backend error, got %v", err)
	}

	opts.Backend = "emulator"
	res, err := RunJacobi(JacobiConfig{N: 4}, opts)
	if err != nil {
		t.Fatalf("RunJacobi on emulator backend failed: %v", err)
	}
	if res.Driver != "emulator" {
		t.Errorf("driver %q", res.Driver)
	}
}

func TestNonPositiveSizesRejectedBeforeDevice(t *testing.T) {
	runs := map[string]func(Options) (*Result, error){
		"jacobi zero": func(o Options) (*Result, error) {
			return RunJacobi(JacobiConfig{N: 0}, o)
		},
		"jacobi negative": func(o Options) (*Result, error) {
			return RunJacobi(JacobiConfig{N: -3}, o)
		},
		"jacobi iterations": func(o Options) (*Result, error) {
			return RunJacobi(JacobiConfig{N: 4, Iterations: -1}, o)
		},
		"scalarprod vectors": func(o Options) (*Result, error) {
			return RunScalarProduct(ScalarProdConfig{VectorN: 0, ElementN: 4}, o)
		},
		"scalarprod elements": func(o Options) (*Result, error) {
			return RunScalarProduct(ScalarProdConfig{VectorN: 4, ElementN: -1}, o)
		},
		"identity": func(o Options) (*Result, error) {
			return RunIdentity(IdentityConfig{N: 0}, o)
		},
	}

	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			drv := newEmulator()
			res, err := run(testOptions(drv))
			if got := failedStage(t, err); got != StageValidate {
				t.Errorf("failed in %s, want validate", got)
			}
			if res.FailedStage != StageValidate {
				t.Errorf("result failed stage = %q", res.FailedStage)
			}
			if s := drv.Stats(); s.PlatformQueries != 0 || s.Contexts != 0 {
				t.Errorf("device touched before validation: %+v", s)
			}
		})
	}
}

func TestWorkSizeRejectedWithoutEnqueue(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.MaxWorkGroupSize = 8
	drv := newEmulator(emulator.WithDevice(dev))

	_, err := RunJacobi(JacobiConfig{N: 16}, testOptions(drv))
	if !errors.Is(err, compute.ErrWorkSize) {
		t.Fatalf("expected work size error, got %v", err)
	}
	if got := failedStage(t, err); got != StageGeometry {
		t.Errorf("failed in %s, want geometry", got)
	}
	if drv.Stats().Enqueues != 0 {
		t.Error("kernel was enqueued")
	}
	if diff := cmp.Diff([]string{"buffer", "buffer", "kernel:jacobi", "program", "queue", "context"}, drv.Releases()); diff != "" {
		t.Errorf("teardown mismatch (-want +got):\n%s", diff)
	}
}

func TestScratchOverDeviceLocalMemory(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.LocalMemSize = 32
	drv := newEmulator(emulator.WithDevice(dev))

	_, err := RunScalarProduct(ScalarProdConfig{VectorN: 4, ElementN: 4, Local: 16}, testOptions(drv))
	if !errors.Is(err, compute.ErrWorkSize) {
		t.Fatalf("expected work size error, got %v", err)
	}
	if drv.Stats().Enqueues != 0 {
		t.Error("kernel was enqueued")
	}
}

func TestCompileErrorFromKernelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cl")
	if err := os.WriteFile(path, []byte("#error unterminated comment\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	drv := newEmulator()
	opts := testOptions(drv)
	opts.KernelPath = path

	_, err := RunIdentity(IdentityConfig{N: 16}, opts)
	if got := failedStage(t, err); got != StageBuild {
		t.Errorf("failed in %s, want build", got)
	}
	log, ok := compute.BuildLog(err)
	if !ok || log == "" {
		t.Fatalf("build log not carried: %v", err)
	}
	if diff := cmp.Diff([]string{"program", "queue", "context"}, drv.Releases()); diff != "" {
		t.Errorf("teardown mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingEntryPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jacobi.cl")
	src, err := kernels.Source("jacobi")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if err := os.WriteFile(path, src.Text, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts := testOptions(newEmulator())
	opts.KernelPath = path

	_, err = RunIdentity(IdentityConfig{N: 16}, opts)
	if !errors.Is(err, compute.ErrEntryPoint) {
		t.Fatalf("expected entry point error, got %v", err)
	}
}

func TestDeviceStageErrors(t *testing.T) {
	_, err := RunIdentity(IdentityConfig{N: 4}, testOptions(newEmulator(emulator.WithoutPlatforms())))
	if !errors.Is(err, compute.ErrPlatform) {
		t.Errorf("expected platform error, got %v", err)
	}
	if got := failedStage(t, err); got != StageDevice {
		t.Errorf("failed in %s, want device", got)
	}
}

func TestTeardownFailureIsNotReturned(t *testing.T) {
	drv := newEmulator(emulator.WithFault("clReleaseMemObject", driver.StatusInvalidMemObject))
	if _, err := RunIdentity(IdentityConfig{N: 8}, testOptions(drv)); err != nil {
		t.Fatalf("teardown failure leaked into the result: %v", err)
	}
}

func TestNormalizeBackend(t *testing.T) {
	cases := map[string]Backend{
		"":         BackendOpenCL,
		"GPU":      BackendOpenCL,
		" opencl ": BackendOpenCL,
		"emu":      BackendEmulator,
		"Emulator": BackendEmulator,
		"vulkan":   Backend("vulkan"),
	}
	for in, want := range cases {
		if got := NormalizeBackend(in); got != want {
			t.Errorf("NormalizeBackend(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewDriver(t *testing.T) {
	drv, err := NewDriver("emulator")
	if err != nil {
		t.Fatalf("NewDriver(emulator): %v", err)
	}
	if drv.Name() != "emulator" {
		t.Errorf("driver name %q", drv.Name())
	}
	if _, err := NewDriver("vulkan"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected unknown backend error, got %v", err)
	}
}

func TestObserveReportsEveryStage(t *testing.T) {
	var stages []Stage
	opts := testOptions(newEmulator())
	opts.Observe = func(e Event) {
		if e.Err != nil {
			t.Errorf("stage %s failed: %v", e.Stage, e.Err)
		}
		stages = append(stages, e.Stage)
	}
	res, err := RunJacobi(JacobiConfig{N: 4, Iterations: 2}, opts)
	if err != nil {
		t.Fatalf("RunJacobi failed: %v", err)
	}
	want := []Stage{
		StageValidate, StageDevice, StageSource, StageBuild, StageKernel,
		StageBuffers, StageUpload, StageGeometry,
		StageBind, StageDispatch, StageBind, StageDispatch,
		StageDownload, StageVerify, StageTeardown,
	}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Errorf("stage sequence mismatch (-want +got):\n%s", diff)
	}
	if got := res.Timings[len(res.Timings)-1].Stage; got != StageTeardown {
		t.Errorf("last timing is %s, want teardown", got)
	}
}
