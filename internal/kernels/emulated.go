package kernels

import (
	"github.com/pkg/errors"

	"github.com/cwbudde/clpipe/internal/compute/emulator"
)

func emulateJacobi(g *emulator.Group) error {
	in, out := g.Float32s(0), g.Float32s(1)
	n := int(g.Int32(2))
	if len(in) < n*n || len(out) < n*n {
		return errors.Errorf("jacobi: %d x %d grid does not fit buffers of %d and %d floats", n, n, len(in), len(out))
	}
	g.ForEach(func(lid [3]int) {
		col, row := g.GlobalID(lid, 0), g.GlobalID(lid, 1)
		if col >= n || row >= n {
			return
		}
		idx := row*n + col
		if row == 0 || col == 0 || row == n-1 || col == n-1 {
			out[idx] = in[idx]
			return
		}
		out[idx] = 0.25 * (in[idx-n] + in[idx+n] + in[idx-1] + in[idx+1])
	})
	return nil
}

func emulateScalarProd(g *emulator.Group) error {
	c, a, b := g.Float32s(0), g.Float32s(1), g.Float32s(2)
	vectorN, elementN := int(g.Int32(3)), int(g.Int32(4))
	accum := g.Float32s(5)
	lsize := g.LocalSize[0]

	if len(accum) < lsize {
		return errors.Errorf("scalarProdGPU: accumulator holds %d floats, work-group has %d items", len(accum), lsize)
	}
	if len(c) < vectorN || len(a) < vectorN*elementN || len(b) < vectorN*elementN {
		return errors.Errorf("scalarProdGPU: %d x %d elements do not fit the bound buffers", vectorN, elementN)
	}

	for vec := g.ID[0]; vec < vectorN; vec += g.NumGroups[0] {
		base := vec * elementN
		g.ForEach(func(lid [3]int) {
			var sum float32
			for pos := lid[0]; pos < elementN; pos += lsize {
				sum += a[base+pos] * b[base+pos]
			}
			accum[lid[0]] = sum
		})
		for stride := lsize / 2; stride > 0; stride >>= 1 {
			g.ForEach(func(lid [3]int) {
				if lid[0] < stride {
					accum[lid[0]] += accum[lid[0]+stride]
				}
			})
		}
		c[vec] = accum[0]
	}
	return nil
}

func emulateCopy(g *emulator.Group) error {
	in, out := g.Float32s(0), g.Float32s(1)
	n := int(g.Int32(2))
	if len(in) < n || len(out) < n {
		return errors.Errorf("copy_buffer: %d elements do not fit buffers of %d and %d floats", n, len(in), len(out))
	}
	g.ForEach(func(lid [3]int) {
		if i := g.GlobalID(lid, 0); i < n {
			out[i] = in[i]
		}
	})
	return nil
}
