package compute

import (
	"fmt"
	"time"
)

// Geometry is a validated launch shape. Global is Requested rounded up to a
// multiple of Local; kernels guard against the padded tail themselves.
type Geometry struct {
	Global    []int
	Local     []int // nil lets the driver pick the work-group size
	Requested []int
	LocalMem  int
}

// Dims is the number of work dimensions.
func (g Geometry) Dims() int { return len(g.Global) }

// WorkGroupSize is the product of the local sizes, or 0 when the driver picks.
func (g Geometry) WorkGroupSize() int {
	if g.Local == nil {
		return 0
	}
	n := 1
	for _, l := range g.Local {
		n *= l
	}
	return n
}

// Padded reports whether Global differs from the requested range.
func (g Geometry) Padded() bool {
	if len(g.Requested) != len(g.Global) {
		return false
	}
	for i := range g.Global {
		if g.Global[i] != g.Requested[i] {
			return true
		}
	}
	return false
}

func (g Geometry) String() string {
	if g.Local == nil {
		return fmt.Sprintf("global=%v local=auto", g.Global)
	}
	return fmt.Sprintf("global=%v local=%v", g.Global, g.Local)
}

// Geometry validates a launch shape against the device limits. localMem is
// the per-work-group local memory the launch needs.
func (s *Session) Geometry(global, local []int, localMem int) (Geometry, error) {
	const op = "work geometry"
	if err := s.checkShape(op, global, local); err != nil {
		return Geometry{}, err
	}
	if localMem < 0 || int64(localMem) > s.info.LocalMemSize {
		return Geometry{}, failf(KindWorkSize, op, "%d bytes of local memory, device has %d", localMem, s.info.LocalMemSize)
	}

	g := Geometry{
		Requested: append([]int(nil), global...),
		Global:    append([]int(nil), global...),
		LocalMem:  localMem,
	}
	if local == nil {
		return g, nil
	}
	g.Local = append([]int(nil), local...)
	for d := range g.Global {
		if r := g.Global[d] % g.Local[d]; r != 0 {
			g.Global[d] += g.Local[d] - r
		}
	}
	return g, nil
}

// checkShape checks the dimensions, the global range and, when local is set,
// the work-group shape against the device limits.
func (s *Session) checkShape(op string, global, local []int) error {
	dims := len(global)
	maxDims := s.info.MaxDimensions()
	if maxDims == 0 {
		maxDims = 3
	}
	if dims < 1 || dims > maxDims {
		return failf(KindWorkSize, op, "%d dimensions, device supports 1 to %d", dims, maxDims)
	}
	if local != nil && len(local) != dims {
		return failf(KindWorkSize, op, "local size has %d dimensions, global has %d", len(local), dims)
	}
	for d, n := range global {
		if n <= 0 {
			return failf(KindWorkSize, op, "global size %d in dimension %d", n, d)
		}
	}
	if local == nil {
		return nil
	}

	maxGroup := s.info.MaxWorkGroupSize
	group := 1
	for d, l := range local {
		if l <= 0 {
			return failf(KindWorkSize, op, "local size %d in dimension %d", l, d)
		}
		if d < len(s.info.MaxWorkItemSizes) && l > s.info.MaxWorkItemSizes[d] {
			return failf(KindWorkSize, op, "local size %d in dimension %d exceeds device limit %d", l, d, s.info.MaxWorkItemSizes[d])
		}
		// group*l > maxGroup, without overflowing.
		if group > maxGroup/l {
			return failf(KindWorkSize, op, "work-group size %v exceeds device limit %d", local, maxGroup)
		}
		group *= l
	}
	return nil
}

// Dispatch launches k over g and waits for it to finish. Nothing is
// enqueued unless every argument is bound and the shape fits the kernel.
func (s *Session) Dispatch(k *Kernel, g Geometry) error {
	op := "dispatch " + k.name
	if err := s.life.checkOpen(op); err != nil {
		return err
	}
	if k.sess != s {
		return failf(KindDispatch, op, "kernel belongs to another session")
	}
	if k.res.released {
		return failf(KindDispatch, op, "kernel was released")
	}
	for i, b := range k.args {
		if b.kind == unbound {
			return failf(KindDispatch, op, "argument %d is not bound", i)
		}
		if b.kind == boundBuffer && b.buffer.res.released {
			return failf(KindDispatch, op, "argument %d buffer %s was released", i, b.buffer.name)
		}
	}
	if g.Dims() == 0 {
		return failf(KindWorkSize, op, "empty geometry")
	}
	if err := s.checkShape(op, g.Global, g.Local); err != nil {
		return err
	}
	for d := range g.Local {
		if g.Global[d]%g.Local[d] != 0 {
			return failf(KindWorkSize, op, "global size %d in dimension %d is not a multiple of local size %d", g.Global[d], d, g.Local[d])
		}
	}
	if max := k.limits.WorkGroupSize; max > 0 && g.WorkGroupSize() > max {
		return failf(KindWorkSize, op, "work-group size %d exceeds kernel limit %d", g.WorkGroupSize(), max)
	}
	localMem := k.limits.LocalMemSize + int64(k.BoundLocalMem())
	if localMem > s.info.LocalMemSize {
		return failf(KindWorkSize, op, "kernel needs %d bytes of local memory, device has %d", localMem, s.info.LocalMemSize)
	}

	start := time.Now()
	if err := s.queue.EnqueueNDRange(k.obj, g.Global, g.Local); err != nil {
		return wrap(KindDispatch, op, err)
	}
	if err := s.queue.Finish(); err != nil {
		return wrap(KindDispatch, op, err)
	}
	s.logger.Debug("Kernel finished", "kernel", k.name, "geometry", g.String(), "elapsed", time.Since(start))
	return nil
}
