// Package driver declares the device-driver API the harness consumes.
//
// The interfaces mirror the OpenCL host API closely: platforms own devices,
// a context is bound to one device and scopes queues, programs and buffers,
// kernels come from built programs. Implementations report failures as
// *StatusError so callers can surface the raw driver code.
package driver

// Driver enumerates platforms.
type Driver interface {
	Name() string
	Platforms() ([]Platform, error)
}

// Platform is one installed driver implementation.
type Platform interface {
	Info() PlatformInfo
	// Devices returns every device of the platform, in driver order.
	Devices() ([]Device, error)
}

// Device is a single processing unit.
type Device interface {
	Info() DeviceInfo
	NewContext() (Context, error)
}

// Context scopes every resource to one device.
type Context interface {
	NewQueue() (Queue, error)
	NewProgram(source []byte) (Program, error)
	NewBuffer(size int, mode AccessMode) (Buffer, error)
	Release() error
}

// Queue is an in-order command queue.
type Queue interface {
	// Write copies src into buf starting at offset 0 and blocks until done.
	Write(buf Buffer, src []byte) error
	// Read copies buf into dst and blocks until done.
	Read(buf Buffer, dst []byte) error
	// EnqueueNDRange submits k. A nil local leaves the work-group size to the driver.
	EnqueueNDRange(k Kernel, global, local []int) error
	Finish() error
	Release() error
}

// Program is kernel source compiled for the context device.
type Program interface {
	Build(options string) error
	BuildLog() (string, error)
	KernelNames() ([]string, error)
	NewKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a compiled entry point with positional arguments.
type Kernel interface {
	Name() string
	NumArgs() (int, error)
	// ArgInfo may fail with StatusKernelArgInfoNotAvailable.
	ArgInfo(index int) (ArgInfo, error)
	Limits() (KernelLimits, error)
	SetArgBuffer(index int, buf Buffer) error
	SetArgValue(index int, value []byte) error
	SetArgLocal(index int, size int) error
	Release() error
}

// Buffer is a device-resident memory region.
type Buffer interface {
	Size() int
	Mode() AccessMode
	Release() error
}
