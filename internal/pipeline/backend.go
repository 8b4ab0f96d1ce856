package pipeline

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/cwbudde/clpipe/internal/compute/driver"
	"github.com/cwbudde/clpipe/internal/compute/emulator"
	"github.com/cwbudde/clpipe/internal/compute/opencl"
	"github.com/cwbudde/clpipe/internal/kernels"
)

// Backend identifies a driver implementation.
type Backend string

const (
	BackendOpenCL   Backend = "opencl"
	BackendEmulator Backend = "emulator"
)

var (
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown compute backend")
	// ErrBackendUnavailable indicates the backend is not available in this build.
	ErrBackendUnavailable = errors.New("compute backend unavailable")
)

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "opencl", "cl", "gpu":
		return BackendOpenCL
	case "emulator", "emu", "host":
		return BackendEmulator
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by NewDriver.
func SupportedBackends() []Backend {
	return []Backend{BackendOpenCL, BackendEmulator}
}

// NewDriver constructs the driver for the named backend. The emulator comes
// with every embedded kernel registered.
func NewDriver(name string) (driver.Driver, error) {
	switch NormalizeBackend(name) {
	case BackendOpenCL:
		drv, err := opencl.New()
		if err != nil {
			return nil, errors.Wrapf(ErrBackendUnavailable, "%s: %v", BackendOpenCL, err)
		}
		return drv, nil
	case BackendEmulator:
		drv := emulator.New()
		kernels.Register(drv)
		return drv, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
}
