package pipeline

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/kernels"
)

// ScalarProdConfig sizes a scalar product run: VectorN dot products of
// ElementN elements each. Global and Local are work-item counts; zero means
// 16 for Local and Local for Global.
type ScalarProdConfig struct {
	VectorN  int
	ElementN int
	Global   int
	Local    int
}

// RunScalarProduct computes VectorN dot products on the device with a
// work-group tree reduction in local memory and checks them against the
// host result.
func RunScalarProduct(cfg ScalarProdConfig, opts Options) (*Result, error) {
	r := newRunner("scalarprod", opts)
	defer r.close()

	// The reduction needs a one-dimensional local size it knows up front.
	override := r.opts.Local
	r.opts.Local = nil
	if len(override) == 1 {
		cfg.Local = override[0]
	}
	if cfg.Local == 0 {
		cfg.Local = 16
	}
	if cfg.Global == 0 {
		cfg.Global = cfg.Local
	}

	if err := r.stage(StageValidate, func() error {
		if len(override) > 1 {
			return errors.Errorf("local size %v must be one-dimensional", override)
		}
		for _, v := range []struct {
			what string
			n    int
		}{{"vector count", cfg.VectorN}, {"element count", cfg.ElementN}, {"global size", cfg.Global}, {"local size", cfg.Local}} {
			if err := positive(v.what, v.n); err != nil {
				return err
			}
		}
		if bits.OnesCount(uint(cfg.Local)) != 1 {
			return errors.Errorf("local size %d must be a power of two for the reduction", cfg.Local)
		}
		if cfg.VectorN > maxGrid || cfg.ElementN > maxGrid {
			return errors.Errorf("%d x %d elements exceed %d per dimension", cfg.VectorN, cfg.ElementN, maxGrid)
		}
		return nil
	}); err != nil {
		return r.result, err
	}

	if err := r.open(); err != nil {
		return r.result, err
	}
	k, err := r.program("scalarprod")
	if err != nil {
		return r.result, err
	}

	total := cfg.VectorN * cfg.ElementN
	var dA, dB, dC *compute.Buffer
	if err := r.stage(StageBuffers, func() error {
		var err error
		if dA, err = compute.CreateBufferFor[float32](r.sess, "d_A", total, compute.ReadOnly); err != nil {
			return err
		}
		if dB, err = compute.CreateBufferFor[float32](r.sess, "d_B", total, compute.ReadOnly); err != nil {
			return err
		}
		dC, err = compute.CreateBufferFor[float32](r.sess, "d_C", cfg.VectorN, compute.WriteOnly)
		return err
	}); err != nil {
		return r.result, err
	}

	a, b := kernels.ScalarProductInputs(cfg.VectorN, cfg.ElementN)
	if err := r.stage(StageUpload, func() error {
		if err := compute.UploadSlice(r.sess, dA, a); err != nil {
			return err
		}
		return compute.UploadSlice(r.sess, dB, b)
	}); err != nil {
		return r.result, err
	}

	scratch := compute.ByteSize[float32](cfg.Local)
	if err := r.stage(StageBind, func() error {
		return k.BindArgs(dC, dA, dB,
			compute.Scalar(int32(cfg.VectorN)),
			compute.Scalar(int32(cfg.ElementN)),
			compute.Local(scratch),
		)
	}); err != nil {
		return r.result, err
	}

	g, err := r.geometry([]int{cfg.Global}, []int{cfg.Local}, scratch)
	if err != nil {
		return r.result, err
	}
	if err := r.stage(StageDispatch, func() error {
		return r.sess.Dispatch(k, g)
	}); err != nil {
		return r.result, err
	}

	output := make([]float32, cfg.VectorN)
	if err := r.stage(StageDownload, func() error {
		return compute.DownloadSlice(r.sess, dC, output)
	}); err != nil {
		return r.result, err
	}

	if err := r.verify(output, kernels.ScalarProduct(a, b, cfg.VectorN, cfg.ElementN)); err != nil {
		return r.result, err
	}
	return r.result, nil
}
