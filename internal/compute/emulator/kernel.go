package emulator

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// KernelFunc runs one work-group. Work-items of the group are iterated by
// the function itself (see Group.ForEach), which lets implementations place
// barriers between loops the way device code places barrier() calls.
type KernelFunc func(g *Group) error

type argKind int

const (
	argUnset argKind = iota
	argBuffer
	argValue
	argLocal
)

type argSlot struct {
	kind  argKind
	buf   *buffer
	value []byte
	local int
}

type kernel struct {
	prog     *program
	decl     declaration
	fn       KernelFunc
	args     []argSlot
	released bool
}

func (k *kernel) Name() string { return k.decl.name }

func (k *kernel) NumArgs() (int, error) {
	if k.released {
		return 0, &driver.StatusError{Op: "clGetKernelInfo", Status: driver.StatusInvalidKernel}
	}
	return len(k.decl.params), nil
}

func (k *kernel) ArgInfo(index int) (driver.ArgInfo, error) {
	if index < 0 || index >= len(k.decl.params) {
		return driver.ArgInfo{}, &driver.StatusError{Op: "clGetKernelArgInfo", Status: driver.StatusInvalidArgIndex}
	}
	if err := k.prog.ctx.drv.fault("clGetKernelArgInfo"); err != nil {
		return driver.ArgInfo{}, err
	}
	return k.decl.params[index], nil
}

func (k *kernel) Limits() (driver.KernelLimits, error) {
	if k.released {
		return driver.KernelLimits{}, &driver.StatusError{Op: "clGetKernelWorkGroupInfo", Status: driver.StatusInvalidKernel}
	}
	return driver.KernelLimits{WorkGroupSize: k.prog.ctx.dev.info.MaxWorkGroupSize}, nil
}

func (k *kernel) slot(op string, index int) (*argSlot, driver.ArgInfo, error) {
	if k.released {
		return nil, driver.ArgInfo{}, &driver.StatusError{Op: op, Status: driver.StatusInvalidKernel}
	}
	if err := k.prog.ctx.drv.fault(op); err != nil {
		return nil, driver.ArgInfo{}, err
	}
	if index < 0 || index >= len(k.args) {
		return nil, driver.ArgInfo{}, &driver.StatusError{Op: op, Status: driver.StatusInvalidArgIndex}
	}
	return &k.args[index], k.decl.params[index], nil
}

func (k *kernel) SetArgBuffer(index int, buf driver.Buffer) error {
	slot, info, err := k.slot("clSetKernelArg", index)
	if err != nil {
		return err
	}
	b, ok := buf.(*buffer)
	if !ok || b.released || b.ctx != k.prog.ctx {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidMemObject}
	}
	if info.Space != driver.AddressGlobal && info.Space != driver.AddressConstant {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgValue}
	}
	*slot = argSlot{kind: argBuffer, buf: b}
	return nil
}

func (k *kernel) SetArgValue(index int, value []byte) error {
	slot, info, err := k.slot("clSetKernelArg", index)
	if err != nil {
		return err
	}
	if info.Space != driver.AddressPrivate {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgValue}
	}
	if size, ok := scalarSizes[info.TypeName]; ok && size != len(value) {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgSize}
	}
	*slot = argSlot{kind: argValue, value: append([]byte(nil), value...)}
	return nil
}

func (k *kernel) SetArgLocal(index int, size int) error {
	slot, info, err := k.slot("clSetKernelArg", index)
	if err != nil {
		return err
	}
	if info.Space != driver.AddressLocal {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgValue}
	}
	if size <= 0 {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgSize}
	}
	*slot = argSlot{kind: argLocal, local: size}
	return nil
}

func (k *kernel) Release() error {
	if k.released {
		return &driver.StatusError{Op: "clReleaseKernel", Status: driver.StatusInvalidKernel}
	}
	if err := k.prog.ctx.drv.fault("clReleaseKernel"); err != nil {
		return err
	}
	k.released = true
	k.prog.kernels--
	k.prog.ctx.drv.released("kernel:" + k.decl.name)
	return nil
}

// run validates the launch like a driver would and executes every group.
func (k *kernel) run(info driver.DeviceInfo, global, local []int) error {
	const op = "clEnqueueNDRangeKernel"
	dims := len(global)
	if dims < 1 || dims > 3 || (info.MaxDimensions() > 0 && dims > info.MaxDimensions()) {
		return &driver.StatusError{Op: op, Status: driver.StatusInvalidWorkDimension}
	}
	localMem := 0
	for _, slot := range k.args {
		switch slot.kind {
		case argUnset:
			return &driver.StatusError{Op: op, Status: driver.StatusInvalidKernelArgs}
		case argLocal:
			localMem += slot.local
		}
	}
	if local == nil {
		local = defaultLocal(global, info.MaxWorkGroupSize)
	}
	if len(local) != dims {
		return &driver.StatusError{Op: op, Status: driver.StatusInvalidWorkDimension}
	}
	groupSize := 1
	for d := 0; d < dims; d++ {
		if global[d] <= 0 || local[d] <= 0 || global[d]%local[d] != 0 {
			return &driver.StatusError{Op: op, Status: driver.StatusInvalidWorkGroupSize}
		}
		if d < len(info.MaxWorkItemSizes) && local[d] > info.MaxWorkItemSizes[d] {
			return &driver.StatusError{Op: op, Status: driver.StatusInvalidWorkItemSize}
		}
		groupSize *= local[d]
	}
	if groupSize > info.MaxWorkGroupSize {
		return &driver.StatusError{Op: op, Status: driver.StatusInvalidWorkGroupSize}
	}
	if int64(localMem) > info.LocalMemSize {
		return &driver.StatusError{Op: op, Status: driver.StatusOutOfResources}
	}

	g := &Group{Dims: dims, kernel: k, scratch: make([][]byte, len(k.args))}
	for d := 0; d < 3; d++ {
		g.GlobalSize[d], g.LocalSize[d], g.NumGroups[d] = 1, 1, 1
		if d < dims {
			g.GlobalSize[d] = global[d]
			g.LocalSize[d] = local[d]
			g.NumGroups[d] = global[d] / local[d]
		}
	}
	for z := 0; z < g.NumGroups[2]; z++ {
		for y := 0; y < g.NumGroups[1]; y++ {
			for x := 0; x < g.NumGroups[0]; x++ {
				g.ID = [3]int{x, y, z}
				for i, slot := range k.args {
					if slot.kind == argLocal {
						g.scratch[i] = alignedBytes(slot.local)
					}
				}
				if err := k.fn(g); err != nil {
					return fmt.Errorf("kernel %s group %v: %v: %w", k.decl.name, g.ID, err,
						&driver.StatusError{Op: op, Status: driver.StatusOutOfResources})
				}
			}
		}
	}
	return nil
}

// defaultLocal picks the largest divisor of global[0] within maxGroup.
func defaultLocal(global []int, maxGroup int) []int {
	local := make([]int, len(global))
	for i := range local {
		local[i] = 1
	}
	for l := min(global[0], maxGroup); l > 1; l-- {
		if global[0]%l == 0 {
			local[0] = l
			break
		}
	}
	return local
}

// Group is the view a KernelFunc has of one work-group.
type Group struct {
	Dims       int
	ID         [3]int
	LocalSize  [3]int
	NumGroups  [3]int
	GlobalSize [3]int

	kernel  *kernel
	scratch [][]byte
}

// ForEach calls fn for every work-item of the group with its local id.
func (g *Group) ForEach(fn func(lid [3]int)) {
	for z := 0; z < g.LocalSize[2]; z++ {
		for y := 0; y < g.LocalSize[1]; y++ {
			for x := 0; x < g.LocalSize[0]; x++ {
				fn([3]int{x, y, z})
			}
		}
	}
}

// GlobalID is get_global_id(dim) for the work-item with local id lid.
func (g *Group) GlobalID(lid [3]int, dim int) int {
	return g.ID[dim]*g.LocalSize[dim] + lid[dim]
}

// Bytes returns the memory behind argument index: the buffer contents, the
// group's local scratch or the scalar value.
func (g *Group) Bytes(index int) []byte {
	slot := g.kernel.args[index]
	switch slot.kind {
	case argBuffer:
		return slot.buf.data
	case argLocal:
		return g.scratch[index]
	default:
		return slot.value
	}
}

// Float32s views argument index as float32 elements.
func (g *Group) Float32s(index int) []float32 {
	b := g.Bytes(index)
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Int32 reads a scalar int argument.
func (g *Group) Int32(index int) int32 {
	return int32(binary.NativeEndian.Uint32(g.Bytes(index)))
}

// Float32 reads a scalar float argument.
func (g *Group) Float32(index int) float32 {
	return math.Float32frombits(binary.NativeEndian.Uint32(g.Bytes(index)))
}
