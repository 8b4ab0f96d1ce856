// Package emulator implements driver.Driver on the host.
//
// Kernels are Go functions registered under the entry-point name declared in
// the OpenCL source; a program "builds" when every declared entry point has a
// registered implementation. Work-groups run one after another on the calling
// goroutine, each with its own local scratch memory, so kernels written
// against Group see the same memory model as on a device.
//
// The emulator is deliberately strict where real drivers are lenient: it
// refuses to release an object while dependent objects are alive, and it can
// be told to fail any driver call with a chosen status.
package emulator

import (
	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Stats counts driver calls made against an emulator.
type Stats struct {
	PlatformQueries int
	Contexts        int
	Queues          int
	Programs        int
	Builds          int
	Kernels         int
	Buffers         int
	Writes          int
	Reads           int
	Enqueues        int
	Finishes        int
}

// Driver is a host-emulated compute driver.
type Driver struct {
	platforms []driver.PlatformInfo
	kernels   map[string]KernelFunc
	faults    map[string]driver.Status

	stats    Stats
	releases []string

	customPlatforms bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithPlatform adds a platform exposing info.Devices.
func WithPlatform(info driver.PlatformInfo) Option {
	return func(d *Driver) {
		d.platforms = append(d.platforms, info)
		d.customPlatforms = true
	}
}

// WithDevice replaces the default platform's device list with info.
func WithDevice(info driver.DeviceInfo) Option {
	return func(d *Driver) {
		d.platforms = []driver.PlatformInfo{defaultPlatform(info)}
		d.customPlatforms = true
	}
}

// WithoutPlatforms removes every platform, default included.
func WithoutPlatforms() Option {
	return func(d *Driver) {
		d.platforms = nil
		d.customPlatforms = true
	}
}

// WithKernel registers fn under name.
func WithKernel(name string, fn KernelFunc) Option {
	return func(d *Driver) {
		d.kernels[name] = fn
	}
}

// WithFault makes every call of the named driver operation fail with status.
// Operation names follow the OpenCL host API (clCreateBuffer, clFinish, ...).
func WithFault(op string, status driver.Status) Option {
	return func(d *Driver) {
		d.faults[op] = status
	}
}

// DefaultDevice returns the limits of the emulated GPU.
func DefaultDevice() driver.DeviceInfo {
	return driver.DeviceInfo{
		Name:             "Emulated GPU",
		Vendor:           "clpipe",
		Version:          "OpenCL 1.2 emulator",
		Class:            driver.ClassGPU,
		MaxComputeUnits:  1,
		MaxWorkGroupSize: 256,
		MaxWorkItemSizes: []int{256, 256, 256},
		LocalMemSize:     32 << 10,
		GlobalMemSize:    256 << 20,
		MaxMemAllocSize:  64 << 20,
	}
}

func defaultPlatform(devices ...driver.DeviceInfo) driver.PlatformInfo {
	return driver.PlatformInfo{
		Name:    "Host Emulator",
		Vendor:  "clpipe",
		Version: "OpenCL 1.2 emulator",
		Devices: devices,
	}
}

// New returns an emulator with one platform holding DefaultDevice, unless
// options say otherwise.
func New(opts ...Option) *Driver {
	d := &Driver{
		kernels: make(map[string]KernelFunc),
		faults:  make(map[string]driver.Status),
	}
	for _, opt := range opts {
		opt(d)
	}
	if !d.customPlatforms {
		d.platforms = []driver.PlatformInfo{defaultPlatform(DefaultDevice())}
	}
	return d
}

// Register adds or replaces a kernel implementation.
func (d *Driver) Register(name string, fn KernelFunc) {
	d.kernels[name] = fn
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "emulator" }

// Stats returns a snapshot of call counters.
func (d *Driver) Stats() Stats { return d.stats }

// Releases lists released objects in release order.
func (d *Driver) Releases() []string {
	out := make([]string, len(d.releases))
	copy(out, d.releases)
	return out
}

// Platforms implements driver.Driver.
func (d *Driver) Platforms() ([]driver.Platform, error) {
	d.stats.PlatformQueries++
	if err := d.fault("clGetPlatformIDs"); err != nil {
		return nil, err
	}
	out := make([]driver.Platform, len(d.platforms))
	for i, info := range d.platforms {
		out[i] = &platform{drv: d, info: info}
	}
	return out, nil
}

func (d *Driver) fault(op string) error {
	if status, ok := d.faults[op]; ok {
		return &driver.StatusError{Op: op, Status: status}
	}
	return nil
}

func (d *Driver) released(what string) {
	d.releases = append(d.releases, what)
}
