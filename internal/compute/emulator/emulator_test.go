package emulator

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

const addSource = `
__kernel void add(__global const int *a, __global int *out, const int n, __local int *tmp) {
    int i = get_global_id(0);
}
`

// add copies a into out one group at a time, staging through local memory.
func add(g *Group) error {
	a, out, tmp := g.Bytes(0), g.Bytes(1), g.Bytes(3)
	n := int(g.Int32(2))
	g.ForEach(func(lid [3]int) {
		i := g.GlobalID(lid, 0)
		if i < n {
			copy(tmp[lid[0]*4:lid[0]*4+4], a[i*4:i*4+4])
		}
	})
	g.ForEach(func(lid [3]int) {
		i := g.GlobalID(lid, 0)
		if i < n {
			v := binary.NativeEndian.Uint32(tmp[lid[0]*4:])
			binary.NativeEndian.PutUint32(out[i*4:], v+1)
		}
	})
	return nil
}

func openContext(t *testing.T, d *Driver) (driver.Context, driver.Queue) {
	t.Helper()

	platforms, err := d.Platforms()
	if err != nil || len(platforms) == 0 {
		t.Fatalf("Platforms: %v (%d)", err, len(platforms))
	}
	devices, err := platforms[0].Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	ctx, err := devices[0].NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	q, err := ctx.NewQueue()
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return ctx, q
}

func int32Bytes(v ...int32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, x := range v {
		out = binary.NativeEndian.AppendUint32(out, uint32(x))
	}
	return out
}

func TestRunKernelWithLocalMemory(t *testing.T) {
	d := New(WithKernel("add", add))
	ctx, q := openContext(t, d)

	prog, err := ctx.NewProgram([]byte(addSource))
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	if err := prog.Build(""); err != nil {
		log, _ := prog.BuildLog()
		t.Fatalf("Build: %v\n%s", err, log)
	}
	k, err := prog.NewKernel("add")
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}

	in, _ := ctx.NewBuffer(24, driver.ReadOnly)
	out, _ := ctx.NewBuffer(24, driver.WriteOnly)
	if err := q.Write(in, int32Bytes(1, 2, 3, 4, 5, 6)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mustNil(t, k.SetArgBuffer(0, in))
	mustNil(t, k.SetArgBuffer(1, out))
	mustNil(t, k.SetArgValue(2, int32Bytes(6)))
	mustNil(t, k.SetArgLocal(3, 16))

	if err := q.EnqueueNDRange(k, []int{8}, []int{4}); err != nil {
		t.Fatalf("EnqueueNDRange: %v", err)
	}
	got := make([]byte, 24)
	if err := q.Read(out, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(int32Bytes(2, 3, 4, 5, 6, 7), got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestEnqueueValidatesLaunch(t *testing.T) {
	dev := DefaultDevice()
	dev.MaxWorkGroupSize = 8
	dev.MaxWorkItemSizes = []int{8}
	dev.LocalMemSize = 16
	d := New(WithDevice(dev), WithKernel("add", add))
	ctx, q := openContext(t, d)

	prog, _ := ctx.NewProgram([]byte(addSource))
	mustNil(t, prog.Build(""))
	k, _ := prog.NewKernel("add")
	buf, _ := ctx.NewBuffer(64, driver.ReadWrite)

	if err := q.EnqueueNDRange(k, []int{8}, []int{4}); !isStatus(err, driver.StatusInvalidKernelArgs) {
		t.Errorf("unset args: got %v", err)
	}

	mustNil(t, k.SetArgBuffer(0, buf))
	mustNil(t, k.SetArgBuffer(1, buf))
	mustNil(t, k.SetArgValue(2, int32Bytes(8)))
	mustNil(t, k.SetArgLocal(3, 32))

	cases := []struct {
		global, local []int
		want          driver.Status
	}{
		{[]int{8}, []int{4}, driver.StatusOutOfResources},
		{[]int{10}, []int{4}, driver.StatusInvalidWorkGroupSize},
		{[]int{16}, []int{16}, driver.StatusInvalidWorkItemSize},
		{[]int{4, 4}, []int{2, 2}, driver.StatusInvalidWorkDimension},
	}
	for _, tc := range cases {
		if err := q.EnqueueNDRange(k, tc.global, tc.local); !isStatus(err, tc.want) {
			t.Errorf("global %v local %v: got %v, want %s", tc.global, tc.local, err, tc.want)
		}
	}
}

func isStatus(err error, want driver.Status) bool {
	s, ok := driver.StatusOf(err)
	return ok && s == want
}

func TestBuildLogForMissingImplementation(t *testing.T) {
	d := New()
	ctx, _ := openContext(t, d)

	prog, _ := ctx.NewProgram([]byte(addSource))
	err := prog.Build("")
	if !isStatus(err, driver.StatusBuildProgramFailure) {
		t.Fatalf("expected build failure, got %v", err)
	}
	log, _ := prog.BuildLog()
	if want := "<source>:2:1: error: kernel 'add' has no host implementation"; log != want {
		t.Errorf("log = %q, want %q", log, want)
	}
	if _, err := prog.NewKernel("add"); !isStatus(err, driver.StatusInvalidProgramExecutable) {
		t.Errorf("kernel from failed build: got %v", err)
	}
}

func TestReleaseOrderEnforced(t *testing.T) {
	d := New(WithKernel("add", add))
	ctx, q := openContext(t, d)
	buf, _ := ctx.NewBuffer(8, driver.ReadWrite)

	if err := ctx.Release(); !isStatus(err, driver.StatusInvalidOperation) {
		t.Errorf("context release with live children: got %v", err)
	}
	mustNil(t, buf.Release())
	mustNil(t, q.Release())
	mustNil(t, ctx.Release())
	if err := ctx.Release(); !isStatus(err, driver.StatusInvalidContext) {
		t.Errorf("double release: got %v", err)
	}
	if diff := cmp.Diff([]string{"buffer", "queue", "context"}, d.Releases()); diff != "" {
		t.Errorf("releases mismatch (-want +got):\n%s", diff)
	}
}

func TestBufferLimits(t *testing.T) {
	dev := DefaultDevice()
	dev.MaxMemAllocSize = 64
	dev.GlobalMemSize = 100
	d := New(WithDevice(dev))
	ctx, _ := openContext(t, d)

	if _, err := ctx.NewBuffer(65, driver.ReadWrite); !isStatus(err, driver.StatusInvalidBufferSize) {
		t.Errorf("over max alloc: got %v", err)
	}
	if _, err := ctx.NewBuffer(64, driver.ReadWrite); err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if _, err := ctx.NewBuffer(64, driver.ReadWrite); !isStatus(err, driver.StatusMemObjectAllocationFailed) {
		t.Errorf("over global memory: got %v", err)
	}
}

func TestWithoutPlatforms(t *testing.T) {
	d := New(WithoutPlatforms())
	platforms, err := d.Platforms()
	if err != nil || len(platforms) != 0 {
		t.Errorf("expected no platforms, got %d (%v)", len(platforms), err)
	}
	if d.Stats().PlatformQueries != 1 {
		t.Errorf("PlatformQueries = %d", d.Stats().PlatformQueries)
	}
}
