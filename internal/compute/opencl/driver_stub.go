//go:build !gpu

package opencl

import (
	"fmt"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// ErrNotBuilt indicates the binary was built without OpenCL support.
var ErrNotBuilt = fmt.Errorf("opencl support requires building with '-tags gpu'")

// Available reports whether the binary was built with OpenCL support.
func Available() bool { return false }

// New returns ErrNotBuilt when OpenCL support is not compiled in.
func New() (driver.Driver, error) {
	return nil, ErrNotBuilt
}
