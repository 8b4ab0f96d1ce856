package driver

import "strings"

// DeviceClass describes the class of a compute device.
type DeviceClass string

const (
	ClassGPU         DeviceClass = "GPU"
	ClassCPU         DeviceClass = "CPU"
	ClassAccelerator DeviceClass = "Accelerator"
	ClassDefault     DeviceClass = "Default"
	ClassUnknown     DeviceClass = "Unknown"
	// ClassAny matches every device during selection.
	ClassAny DeviceClass = "Any"
)

// ParseDeviceClass maps user input to a device class.
func ParseDeviceClass(name string) (DeviceClass, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gpu":
		return ClassGPU, true
	case "cpu":
		return ClassCPU, true
	case "accelerator", "acc":
		return ClassAccelerator, true
	case "default":
		return ClassDefault, true
	case "any", "all":
		return ClassAny, true
	default:
		return ClassUnknown, false
	}
}

// Matches reports whether a device of class c satisfies a request for want.
func (c DeviceClass) Matches(want DeviceClass) bool {
	return want == ClassAny || c == want
}

// DeviceInfo captures metadata and limits of a device.
type DeviceInfo struct {
	Name             string
	Vendor           string
	Version          string
	Class            DeviceClass
	MaxComputeUnits  uint32
	MaxWorkGroupSize int
	MaxWorkItemSizes []int
	LocalMemSize     int64
	GlobalMemSize    int64
	MaxMemAllocSize  int64
}

// MaxDimensions is the number of work-item dimensions the device supports.
func (d DeviceInfo) MaxDimensions() int {
	return len(d.MaxWorkItemSizes)
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceInfo
}

// AccessMode is how a kernel uses a buffer.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// AddressSpace of a kernel parameter.
type AddressSpace int

const (
	AddressPrivate AddressSpace = iota
	AddressGlobal
	AddressConstant
	AddressLocal
)

func (a AddressSpace) String() string {
	switch a {
	case AddressGlobal:
		return "global"
	case AddressConstant:
		return "constant"
	case AddressLocal:
		return "local"
	default:
		return "private"
	}
}

// ArgInfo describes one declared kernel parameter.
type ArgInfo struct {
	Name     string
	TypeName string
	Space    AddressSpace
	Const    bool
}

// KernelLimits are per-kernel limits on the session device.
type KernelLimits struct {
	WorkGroupSize int
	LocalMemSize  int64
}
