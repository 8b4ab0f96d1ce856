//go:build gpu

package opencl

import (
	"testing"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

func TestPlatformsReportDeviceLimits(t *testing.T) {
	drv, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	platforms, err := drv.Platforms()
	if err != nil {
		t.Fatalf("Platforms: %v", err)
	}
	if len(platforms) == 0 {
		t.Skip("no OpenCL platform installed")
	}
	for _, p := range platforms {
		devices, err := p.Devices()
		if err != nil {
			if s, ok := driver.StatusOf(err); ok && s == driver.StatusDeviceNotFound {
				continue
			}
			t.Fatalf("Devices(%s): %v", p.Info().Name, err)
		}
		for _, d := range devices {
			info := d.Info()
			if info.MaxWorkGroupSize <= 0 {
				t.Errorf("%s: max work-group size %d", info.Name, info.MaxWorkGroupSize)
			}
			if info.MaxDimensions() < 1 {
				t.Errorf("%s: no work-item dimensions reported", info.Name)
			}
			if info.LocalMemSize <= 0 {
				t.Errorf("%s: local memory %d", info.Name, info.LocalMemSize)
			}
		}
	}
}
