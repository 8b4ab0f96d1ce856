package compute

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cwbudde/clpipe/internal/compute/emulator"
)

const testSource = `
__kernel void scale(__global float *data, const float factor, const int n) {
    const int i = get_global_id(0);
    if (i < n) {
        data[i] *= factor;
    }
}

__kernel void fill(__global float *out, __local float *tmp) {
    out[get_global_id(0)] = 1.0f;
}

__kernel void sum(__global const float *in, __global float *out) {
    out[0] = in[0];
}
`

func scaleKernel(g *emulator.Group) error {
	data := g.Float32s(0)
	factor := g.Float32(1)
	n := int(g.Int32(2))
	g.ForEach(func(lid [3]int) {
		if i := g.GlobalID(lid, 0); i < n {
			data[i] *= factor
		}
	})
	return nil
}

func fillKernel(g *emulator.Group) error {
	out := g.Float32s(0)
	g.ForEach(func(lid [3]int) {
		out[g.GlobalID(lid, 0)] = 1
	})
	return nil
}

func sumKernel(g *emulator.Group) error {
	g.Float32s(1)[0] = g.Float32s(0)[0]
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDriver(opts ...emulator.Option) *emulator.Driver {
	opts = append([]emulator.Option{
		emulator.WithKernel("scale", scaleKernel),
		emulator.WithKernel("fill", fillKernel),
		emulator.WithKernel("sum", sumKernel),
	}, opts...)
	return emulator.New(opts...)
}

func openTestSession(t *testing.T, opts ...emulator.Option) (*Session, *emulator.Driver) {
	t.Helper()

	drv := newTestDriver(opts...)
	sess, err := Open(drv, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess, drv
}

func buildTestProgram(t *testing.T, sess *Session) *Program {
	t.Helper()

	prog, err := sess.NewProgram(NewSource("test.cl", []byte(testSource)))
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	if err := prog.Build(""); err != nil {
		t.Fatalf("Build failed: %v\n%s", err, prog.BuildLog())
	}
	return prog
}
