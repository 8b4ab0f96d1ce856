package pipeline

import (
	"github.com/pkg/errors"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/kernels"
)

// maxGrid keeps n*n addressable by the kernel's int indices.
const maxGrid = 46340

// JacobiConfig sizes a Jacobi run on an N x N grid.
type JacobiConfig struct {
	N          int
	Iterations int
}

// RunJacobi sweeps the 5-point stencil over the grid value[i] = i % N,
// ping-ponging two device buffers between iterations, and checks the result
// against the host stencil. The session is always torn down.
func RunJacobi(cfg JacobiConfig, opts Options) (*Result, error) {
	r := newRunner("jacobi", opts)
	defer r.close()

	if cfg.Iterations == 0 {
		cfg.Iterations = 1
	}
	n := cfg.N
	if err := r.stage(StageValidate, func() error {
		if err := positive("matrix size", n); err != nil {
			return err
		}
		if n > maxGrid {
			return errors.Errorf("matrix size %d exceeds %d", n, maxGrid)
		}
		return positive("iterations", cfg.Iterations)
	}); err != nil {
		return r.result, err
	}
	r.result.Iterations = cfg.Iterations

	if err := r.open(); err != nil {
		return r.result, err
	}
	k, err := r.program("jacobi")
	if err != nil {
		return r.result, err
	}

	var bufs [2]*compute.Buffer
	if err := r.stage(StageBuffers, func() error {
		for i, name := range []string{"grid-a", "grid-b"} {
			b, err := compute.CreateBufferFor[float32](r.sess, name, n*n, compute.ReadWrite)
			if err != nil {
				return err
			}
			bufs[i] = b
		}
		return nil
	}); err != nil {
		return r.result, err
	}

	input := kernels.JacobiInput(n)
	if err := r.stage(StageUpload, func() error {
		return compute.UploadSlice(r.sess, bufs[0], input)
	}); err != nil {
		return r.result, err
	}

	g, err := r.geometry([]int{n, n}, []int{4, 4}, 0)
	if err != nil {
		return r.result, err
	}

	src, dst := bufs[0], bufs[1]
	for it := 0; it < cfg.Iterations; it++ {
		if err := r.stage(StageBind, func() error {
			return k.BindArgs(src, dst, compute.Scalar(int32(n)))
		}); err != nil {
			return r.result, err
		}
		if err := r.stage(StageDispatch, func() error {
			return r.sess.Dispatch(k, g)
		}); err != nil {
			return r.result, err
		}
		src, dst = dst, src
	}

	output := make([]float32, n*n)
	if err := r.stage(StageDownload, func() error {
		return compute.DownloadSlice(r.sess, src, output)
	}); err != nil {
		return r.result, err
	}

	if err := r.verify(output, kernels.Jacobi(input, n, cfg.Iterations)); err != nil {
		return r.result, err
	}
	return r.result, nil
}
