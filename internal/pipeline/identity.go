package pipeline

import (
	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/kernels"
)

// IdentityConfig sizes an identity run.
type IdentityConfig struct {
	N int
}

// RunIdentity copies 0..N-1 through the device unchanged. The work-group
// size is left to the driver unless Options.Local is set.
func RunIdentity(cfg IdentityConfig, opts Options) (*Result, error) {
	r := newRunner("identity", opts)
	defer r.close()

	if err := r.stage(StageValidate, func() error {
		return positive("element count", cfg.N)
	}); err != nil {
		return r.result, err
	}

	if err := r.open(); err != nil {
		return r.result, err
	}
	k, err := r.program("identity")
	if err != nil {
		return r.result, err
	}

	var in, out *compute.Buffer
	if err := r.stage(StageBuffers, func() error {
		var err error
		if in, err = compute.CreateBufferFor[float32](r.sess, "in", cfg.N, compute.ReadOnly); err != nil {
			return err
		}
		out, err = compute.CreateBufferFor[float32](r.sess, "out", cfg.N, compute.WriteOnly)
		return err
	}); err != nil {
		return r.result, err
	}

	input := kernels.Ramp(cfg.N)
	if err := r.stage(StageUpload, func() error {
		return compute.UploadSlice(r.sess, in, input)
	}); err != nil {
		return r.result, err
	}

	if err := r.stage(StageBind, func() error {
		return k.BindArgs(in, out, compute.Scalar(int32(cfg.N)))
	}); err != nil {
		return r.result, err
	}

	g, err := r.geometry([]int{cfg.N}, nil, 0)
	if err != nil {
		return r.result, err
	}
	if err := r.stage(StageDispatch, func() error {
		return r.sess.Dispatch(k, g)
	}); err != nil {
		return r.result, err
	}

	output := make([]float32, cfg.N)
	if err := r.stage(StageDownload, func() error {
		return compute.DownloadSlice(r.sess, out, output)
	}); err != nil {
		return r.result, err
	}

	if err := r.verify(output, input); err != nil {
		return r.result, err
	}
	return r.result, nil
}
