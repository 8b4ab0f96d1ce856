package compute

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/clpipe/internal/compute/driver"
	"github.com/cwbudde/clpipe/internal/compute/emulator"
)

func TestGeometryValidation(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.MaxWorkGroupSize = 16
	dev.MaxWorkItemSizes = []int{16, 8, 4}
	dev.LocalMemSize = 1024
	sess, _ := openTestSession(t, emulator.WithDevice(dev))

	tests := []struct {
		name     string
		global   []int
		local    []int
		localMem int
		wantErr  bool
	}{
		{"one dimension", []int{64}, []int{16}, 0, false},
		{"two dimensions", []int{16, 16}, []int{4, 4}, 0, false},
		{"driver picks local", []int{100}, nil, 0, false},
		{"no dimensions", nil, nil, 0, true},
		{"four dimensions", []int{1, 1, 1, 1}, nil, 0, true},
		{"group too large", []int{32, 32}, []int{8, 4}, 0, true},
		{"item size too large", []int{32, 32}, []int{1, 16}, 0, true},
		{"local rank mismatch", []int{32, 32}, []int{4}, 0, true},
		{"zero global", []int{0}, []int{1}, 0, true},
		{"zero local", []int{8}, []int{0}, 0, true},
		{"local memory fits", []int{16}, []int{16}, 1024, false},
		{"local memory too large", []int{16}, []int{16}, 1025, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sess.Geometry(tt.global, tt.local, tt.localMem)
			if tt.wantErr && !errors.Is(err, ErrWorkSize) {
				t.Errorf("expected work size error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGeometryPadsGlobal(t *testing.T) {
	sess, _ := openTestSession(t)

	g, err := sess.Geometry([]int{10, 7}, []int{4, 4}, 0)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if diff := cmp.Diff([]int{12, 8}, g.Global); diff != "" {
		t.Errorf("padded global mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{10, 7}, g.Requested); diff != "" {
		t.Errorf("requested mismatch (-want +got):\n%s", diff)
	}
	if !g.Padded() || g.WorkGroupSize() != 16 || g.Dims() != 2 {
		t.Errorf("unexpected geometry %+v", g)
	}
}

func TestDispatchScale(t *testing.T) {
	sess, drv := openTestSession(t)
	prog := buildTestProgram(t, sess)

	k, err := prog.Kernel("scale")
	if err != nil {
		t.Fatalf("Kernel failed: %v", err)
	}
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	buf, err := CreateBufferFor[float32](sess, "data", len(data), ReadWrite)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := UploadSlice(sess, buf, data); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	// Bind out of order.
	if err := k.BindScalar(2, Scalar(int32(len(data)))); err != nil {
		t.Fatalf("bind n: %v", err)
	}
	if err := k.BindBuffer(0, buf); err != nil {
		t.Fatalf("bind data: %v", err)
	}
	if err := k.BindScalar(1, Scalar(float32(2))); err != nil {
		t.Fatalf("bind factor: %v", err)
	}

	g, err := sess.Geometry([]int{len(data)}, []int{4}, 0)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if err := sess.Dispatch(k, g); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := make([]float32, len(data))
	if err := DownloadSlice(sess, buf, got); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	want := []float32{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if s := drv.Stats(); s.Enqueues != 1 || s.Finishes != 1 {
		t.Errorf("expected one enqueue and one finish, got %+v", s)
	}
}

func TestDispatchUnboundArgument(t *testing.T) {
	sess, drv := openTestSession(t)
	prog := buildTestProgram(t, sess)

	k, err := prog.Kernel("scale")
	if err != nil {
		t.Fatalf("Kernel failed: %v", err)
	}
	if err := k.BindScalar(1, Scalar(float32(2))); err != nil {
		t.Fatalf("bind: %v", err)
	}
	g, _ := sess.Geometry([]int{4}, nil, 0)

	if err := sess.Dispatch(k, g); !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if drv.Stats().Enqueues != 0 {
		t.Error("kernel with unbound arguments was enqueued")
	}
}

func TestDispatchLocalMemoryOverLimit(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.LocalMemSize = 64
	sess, drv := openTestSession(t, emulator.WithDevice(dev))
	prog := buildTestProgram(t, sess)

	k, err := prog.Kernel("fill")
	if err != nil {
		t.Fatalf("Kernel failed: %v", err)
	}
	out, _ := CreateBufferFor[float32](sess, "out", 16, WriteOnly)
	if err := k.BindArgs(out, Local(128)); err != nil {
		t.Fatalf("BindArgs failed: %v", err)
	}
	g, err := sess.Geometry([]int{16}, []int{16}, 0)
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if err := sess.Dispatch(k, g); !errors.Is(err, ErrWorkSize) {
		t.Fatalf("expected work size error, got %v", err)
	}
	if drv.Stats().Enqueues != 0 {
		t.Error("oversized launch was enqueued")
	}
}

func TestGeometryGroupSizeDoesNotOverflow(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.MaxWorkItemSizes = nil
	sess, _ := openTestSession(t, emulator.WithDevice(dev))

	// big*big wraps to 0 in int arithmetic.
	big := math.MaxInt/2 + 1
	if _, err := sess.Geometry([]int{big, big}, []int{big, big}, 0); !errors.Is(err, ErrWorkSize) {
		t.Errorf("expected work size error, got %v", err)
	}
}

func TestDispatchRevalidatesGeometry(t *testing.T) {
	dev := emulator.DefaultDevice()
	dev.MaxWorkGroupSize = 16
	dev.MaxWorkItemSizes = []int{8, 8, 8}
	sess, drv := openTestSession(t, emulator.WithDevice(dev))
	prog := buildTestProgram(t, sess)

	k, err := prog.Kernel("scale")
	if err != nil {
		t.Fatalf("Kernel failed: %v", err)
	}
	buf, _ := CreateBufferFor[float32](sess, "data", 16, ReadWrite)
	if err := k.BindArgs(buf, Scalar(float32(2)), Scalar(int32(16))); err != nil {
		t.Fatalf("BindArgs failed: %v", err)
	}

	cases := []struct {
		name string
		g    Geometry
	}{
		{"item size over device limit", Geometry{Global: []int{16}, Local: []int{16}}},
		{"local rank mismatch", Geometry{Global: []int{16}, Local: []int{4, 4}}},
		{"four dimensions", Geometry{Global: []int{1, 1, 1, 1}}},
		{"zero global", Geometry{Global: []int{0}, Local: []int{1}}},
		{"global not a multiple of local", Geometry{Global: []int{10}, Local: []int{4}}},
		{"group over device limit", Geometry{Global: []int{16, 16}, Local: []int{8, 4}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := sess.Dispatch(k, tc.g); !errors.Is(err, ErrWorkSize) {
				t.Errorf("expected work size error, got %v", err)
			}
		})
	}
	if drv.Stats().Enqueues != 0 {
		t.Error("invalid geometry was enqueued")
	}
}

func TestBindMismatches(t *testing.T) {
	sess, _ := openTestSession(t)
	prog := buildTestProgram(t, sess)

	scale, _ := prog.Kernel("scale")
	sum, _ := prog.Kernel("sum")
	ro, _ := sess.CreateBuffer("ro", 16, ReadOnly)
	wo, _ := sess.CreateBuffer("wo", 16, WriteOnly)

	cases := []struct {
		name string
		bind func() error
	}{
		{"index out of range", func() error { return scale.BindBuffer(3, ro) }},
		{"negative index", func() error { return scale.BindScalar(-1, Scalar(int32(1))) }},
		{"buffer for value", func() error { return scale.BindBuffer(1, ro) }},
		{"value for buffer", func() error { return scale.BindScalar(0, Scalar(int32(1))) }},
		{"local for value", func() error { return scale.BindLocal(2, 16) }},
		{"read-only to writable", func() error { return scale.BindBuffer(0, ro) }},
		{"write-only to const", func() error { return sum.BindBuffer(0, wo) }},
		{"wrong scalar size", func() error { return scale.BindScalar(2, Scalar(int64(1))) }},
		{"argument count", func() error { return scale.BindArgs(ro) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.bind(); !errors.Is(err, ErrDispatch) {
				t.Errorf("expected dispatch error, got %v", err)
			}
		})
	}
}

func TestBindWithoutArgumentMetadata(t *testing.T) {
	sess, _ := openTestSession(t, emulator.WithFault("clGetKernelArgInfo", driver.StatusKernelArgInfoNotAvailable))
	prog := buildTestProgram(t, sess)

	k, err := prog.Kernel("scale")
	if err != nil {
		t.Fatalf("Kernel failed: %v", err)
	}
	if k.Params() != nil {
		t.Errorf("expected no parameter metadata, got %+v", k.Params())
	}
	ro, _ := sess.CreateBuffer("ro", 16, ReadOnly)
	if err := k.BindBuffer(0, ro); err != nil {
		t.Errorf("binding must be left to the driver, got %v", err)
	}
	// The driver still rejects a buffer for a value parameter.
	if err := k.BindBuffer(1, ro); !errors.Is(err, ErrDispatch) {
		t.Errorf("expected dispatch error from driver, got %v", err)
	}
}

func TestDispatchDriverFailure(t *testing.T) {
	sess, _ := openTestSession(t, emulator.WithFault("clEnqueueNDRangeKernel", driver.StatusOutOfResources))
	prog := buildTestProgram(t, sess)

	k, _ := prog.Kernel("scale")
	buf, _ := CreateBufferFor[float32](sess, "data", 4, ReadWrite)
	if err := k.BindArgs(buf, Scalar(float32(1)), Scalar(int32(4))); err != nil {
		t.Fatalf("BindArgs failed: %v", err)
	}
	g, _ := sess.Geometry([]int{4}, []int{4}, 0)

	err := sess.Dispatch(k, g)
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Code != driver.StatusOutOfResources {
		t.Errorf("expected driver code, got %#v", err)
	}
}
