package kernels

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/compute/emulator"
)

func TestSourcesDeclareTheirEntryPoints(t *testing.T) {
	drv := emulator.New()
	Register(drv)

	sess, err := compute.Open(drv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}
		src, err := Source(name)
		if err != nil {
			t.Fatalf("Source(%s): %v", name, err)
		}
		prog, err := sess.NewProgram(src)
		if err != nil {
			t.Fatalf("NewProgram(%s): %v", name, err)
		}
		if err := prog.Build(""); err != nil {
			t.Fatalf("Build(%s): %v\n%s", name, err, prog.BuildLog())
		}
		entries, err := prog.EntryPoints()
		if err != nil {
			t.Fatalf("EntryPoints(%s): %v", name, err)
		}
		if diff := cmp.Diff([]string{p.Entry}, entries); diff != "" {
			t.Errorf("%s entry points mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestLookupUnknownProgram(t *testing.T) {
	if _, err := Lookup("mandelbrot"); err == nil {
		t.Fatal("expected error for unknown program")
	}
}

func TestJacobiStepKeepsBoundary(t *testing.T) {
	const n = 4
	in := JacobiInput(n)
	out := JacobiStep(in, n)

	for i := 0; i < n; i++ {
		for _, idx := range []int{i, (n-1)*n + i, i * n, i*n + n - 1} {
			if out[idx] != in[idx] {
				t.Errorf("boundary cell %d changed: %v -> %v", idx, in[idx], out[idx])
			}
		}
	}

	// Interior cell (1,1): neighbours 1, 1, 0, 2.
	if got := out[1*n+1]; got != 1 {
		t.Errorf("interior (1,1) = %v, want 1", got)
	}
}

func TestJacobiZeroIterationsReturnsInput(t *testing.T) {
	in := JacobiInput(8)
	if diff := cmp.Diff(in, Jacobi(in, 8, 0)); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestScalarProductReference(t *testing.T) {
	a, b := ScalarProductInputs(4, 4)
	got := ScalarProduct(a, b, 4, 4)
	// a = 0..9,0..5 ; b = 0..4 repeating.
	want := []float32{
		0*0 + 1*1 + 2*2 + 3*3,
		4*4 + 5*0 + 6*1 + 7*2,
		8*3 + 9*4 + 0*0 + 1*1,
		2*2 + 3*3 + 4*4 + 5*0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scalar products mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxAbsError(t *testing.T) {
	if got := MaxAbsError([]float32{1, 2, 3}, []float32{1, 2.5, 2}); got != 1 {
		t.Errorf("MaxAbsError = %v, want 1", got)
	}
	if got := MaxAbsError([]float32{1}, []float32{1, 2}); got < 1e300 {
		t.Errorf("length mismatch should be +Inf, got %v", got)
	}
}
