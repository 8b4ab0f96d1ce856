package emulator

import (
	"unsafe"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

type platform struct {
	drv  *Driver
	info driver.PlatformInfo
}

func (p *platform) Info() driver.PlatformInfo { return p.info }

func (p *platform) Devices() ([]driver.Device, error) {
	if err := p.drv.fault("clGetDeviceIDs"); err != nil {
		return nil, err
	}
	if len(p.info.Devices) == 0 {
		return nil, &driver.StatusError{Op: "clGetDeviceIDs", Status: driver.StatusDeviceNotFound}
	}
	out := make([]driver.Device, len(p.info.Devices))
	for i, info := range p.info.Devices {
		out[i] = &device{drv: p.drv, info: info}
	}
	return out, nil
}

type device struct {
	drv  *Driver
	info driver.DeviceInfo
}

func (d *device) Info() driver.DeviceInfo { return d.info }

func (d *device) NewContext() (driver.Context, error) {
	if err := d.drv.fault("clCreateContext"); err != nil {
		return nil, err
	}
	d.drv.stats.Contexts++
	return &context{drv: d.drv, dev: d}, nil
}

// context counts live children so out-of-order release is reported.
type context struct {
	drv       *Driver
	dev       *device
	live      int
	allocated int64
	released  bool
}

func (c *context) NewQueue() (driver.Queue, error) {
	if c.released {
		return nil, &driver.StatusError{Op: "clCreateCommandQueue", Status: driver.StatusInvalidContext}
	}
	if err := c.drv.fault("clCreateCommandQueue"); err != nil {
		return nil, err
	}
	c.drv.stats.Queues++
	c.live++
	return &queue{ctx: c}, nil
}

func (c *context) NewProgram(source []byte) (driver.Program, error) {
	if c.released {
		return nil, &driver.StatusError{Op: "clCreateProgramWithSource", Status: driver.StatusInvalidContext}
	}
	if err := c.drv.fault("clCreateProgramWithSource"); err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, &driver.StatusError{Op: "clCreateProgramWithSource", Status: driver.StatusInvalidValue}
	}
	c.drv.stats.Programs++
	c.live++
	return &program{ctx: c, source: string(source)}, nil
}

func (c *context) NewBuffer(size int, mode driver.AccessMode) (driver.Buffer, error) {
	if c.released {
		return nil, &driver.StatusError{Op: "clCreateBuffer", Status: driver.StatusInvalidContext}
	}
	if err := c.drv.fault("clCreateBuffer"); err != nil {
		return nil, err
	}
	info := c.dev.info
	if size <= 0 || (info.MaxMemAllocSize > 0 && int64(size) > info.MaxMemAllocSize) {
		return nil, &driver.StatusError{Op: "clCreateBuffer", Status: driver.StatusInvalidBufferSize}
	}
	if info.GlobalMemSize > 0 && c.allocated+int64(size) > info.GlobalMemSize {
		return nil, &driver.StatusError{Op: "clCreateBuffer", Status: driver.StatusMemObjectAllocationFailed}
	}
	c.drv.stats.Buffers++
	c.live++
	c.allocated += int64(size)
	return &buffer{ctx: c, data: alignedBytes(size), mode: mode}, nil
}

func (c *context) Release() error {
	if c.released {
		return &driver.StatusError{Op: "clReleaseContext", Status: driver.StatusInvalidContext}
	}
	if err := c.drv.fault("clReleaseContext"); err != nil {
		return err
	}
	if c.live > 0 {
		return &driver.StatusError{Op: "clReleaseContext", Status: driver.StatusInvalidOperation}
	}
	c.released = true
	c.drv.released("context")
	return nil
}

func (c *context) drop() { c.live-- }

type queue struct {
	ctx      *context
	released bool
}

func (q *queue) Write(buf driver.Buffer, src []byte) error {
	q.ctx.drv.stats.Writes++
	b, err := q.transfer("clEnqueueWriteBuffer", buf, len(src))
	if err != nil {
		return err
	}
	copy(b.data, src)
	return nil
}

func (q *queue) Read(buf driver.Buffer, dst []byte) error {
	q.ctx.drv.stats.Reads++
	b, err := q.transfer("clEnqueueReadBuffer", buf, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b.data)
	return nil
}

func (q *queue) transfer(op string, buf driver.Buffer, n int) (*buffer, error) {
	if q.released {
		return nil, &driver.StatusError{Op: op, Status: driver.StatusInvalidCommandQueue}
	}
	if err := q.ctx.drv.fault(op); err != nil {
		return nil, err
	}
	b, ok := buf.(*buffer)
	if !ok || b.released || b.ctx != q.ctx {
		return nil, &driver.StatusError{Op: op, Status: driver.StatusInvalidMemObject}
	}
	if n > len(b.data) {
		return nil, &driver.StatusError{Op: op, Status: driver.StatusInvalidValue}
	}
	return b, nil
}

func (q *queue) EnqueueNDRange(k driver.Kernel, global, local []int) error {
	q.ctx.drv.stats.Enqueues++
	if q.released {
		return &driver.StatusError{Op: "clEnqueueNDRangeKernel", Status: driver.StatusInvalidCommandQueue}
	}
	if err := q.ctx.drv.fault("clEnqueueNDRangeKernel"); err != nil {
		return err
	}
	kern, ok := k.(*kernel)
	if !ok || kern.released || kern.prog.ctx != q.ctx {
		return &driver.StatusError{Op: "clEnqueueNDRangeKernel", Status: driver.StatusInvalidKernel}
	}
	return kern.run(q.ctx.dev.info, global, local)
}

func (q *queue) Finish() error {
	q.ctx.drv.stats.Finishes++
	if q.released {
		return &driver.StatusError{Op: "clFinish", Status: driver.StatusInvalidCommandQueue}
	}
	return q.ctx.drv.fault("clFinish")
}

func (q *queue) Release() error {
	if q.released {
		return &driver.StatusError{Op: "clReleaseCommandQueue", Status: driver.StatusInvalidCommandQueue}
	}
	if err := q.ctx.drv.fault("clReleaseCommandQueue"); err != nil {
		return err
	}
	q.released = true
	q.ctx.drop()
	q.ctx.drv.released("queue")
	return nil
}

type buffer struct {
	ctx      *context
	data     []byte
	mode     driver.AccessMode
	released bool
}

func (b *buffer) Size() int               { return len(b.data) }
func (b *buffer) Mode() driver.AccessMode { return b.mode }

func (b *buffer) Release() error {
	if b.released {
		return &driver.StatusError{Op: "clReleaseMemObject", Status: driver.StatusInvalidMemObject}
	}
	if err := b.ctx.drv.fault("clReleaseMemObject"); err != nil {
		return err
	}
	b.released = true
	b.ctx.allocated -= int64(len(b.data))
	b.ctx.drop()
	b.ctx.drv.released("buffer")
	return nil
}

// alignedBytes returns n bytes backed by 8-byte aligned storage so typed
// views over the same memory are valid.
func alignedBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}
