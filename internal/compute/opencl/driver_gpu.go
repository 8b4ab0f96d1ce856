//go:build gpu

package opencl

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>

static cl_command_queue clpipe_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
#if CL_TARGET_OPENCL_VERSION >= 200
	const cl_queue_properties props[] = {0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
#else
	return clCreateCommandQueue(ctx, device, 0, status);
#endif
}
*/
import "C"

import (
	"sort"
	"strings"
	"unsafe"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Available reports whether the binary was built with OpenCL support.
func Available() bool { return true }

// New returns the system OpenCL driver.
func New() (driver.Driver, error) {
	return &Driver{}, nil
}

// Driver talks to the installed OpenCL ICD loader.
type Driver struct{}

func (d *Driver) Name() string { return "opencl" }

func (d *Driver) Platforms() ([]driver.Platform, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if driver.Status(status) == driver.StatusPlatformNotFound {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	out := make([]driver.Platform, 0, len(ids))
	for _, id := range ids {
		p := &platform{id: id}
		var err error
		if p.info.Name, err = getPlatformString(id, C.CL_PLATFORM_NAME); err != nil {
			return nil, err
		}
		if p.info.Vendor, err = getPlatformString(id, C.CL_PLATFORM_VENDOR); err != nil {
			return nil, err
		}
		if p.info.Version, err = getPlatformString(id, C.CL_PLATFORM_VERSION); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type platform struct {
	id   C.cl_platform_id
	info driver.PlatformInfo
}

func (p *platform) Info() driver.PlatformInfo { return p.info }

func (p *platform) Devices() ([]driver.Device, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(p.id, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}
	if count == 0 {
		return nil, &driver.StatusError{Op: "clGetDeviceIDs", Status: driver.StatusDeviceNotFound}
	}

	ids := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(p.id, C.CL_DEVICE_TYPE_ALL, count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	out := make([]driver.Device, 0, len(ids))
	for _, id := range ids {
		info, err := buildDeviceInfo(id)
		if err != nil {
			return nil, err
		}
		out = append(out, &device{id: id, info: info})
	}
	return out, nil
}

type device struct {
	id   C.cl_device_id
	info driver.DeviceInfo
}

func (d *device) Info() driver.DeviceInfo { return d.info }

func (d *device) NewContext() (driver.Context, error) {
	var status C.cl_int
	ctx := C.clCreateContext(nil, 1, &d.id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}
	return &context{id: ctx, dev: d}, nil
}

type context struct {
	id  C.cl_context
	dev *device
}

func (c *context) NewQueue() (driver.Queue, error) {
	var status C.cl_int
	q := C.clpipe_create_queue(c.id, c.dev.id, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateCommandQueue", status)
	}
	return &queue{id: q}, nil
}

func (c *context) NewProgram(source []byte) (driver.Program, error) {
	if len(source) == 0 {
		return nil, &driver.StatusError{Op: "clCreateProgramWithSource", Status: driver.StatusInvalidValue}
	}
	text := (*C.char)(C.CBytes(source))
	defer C.free(unsafe.Pointer(text))
	length := C.size_t(len(source))

	var status C.cl_int
	id := C.clCreateProgramWithSource(c.id, 1, &text, &length, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateProgramWithSource", status)
	}
	return &program{id: id, ctx: c}, nil
}

func (c *context) NewBuffer(size int, mode driver.AccessMode) (driver.Buffer, error) {
	flags := C.cl_mem_flags(C.CL_MEM_READ_WRITE)
	switch mode {
	case driver.ReadOnly:
		flags = C.CL_MEM_READ_ONLY
	case driver.WriteOnly:
		flags = C.CL_MEM_WRITE_ONLY
	}
	var status C.cl_int
	mem := C.clCreateBuffer(c.id, flags, C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateBuffer", status)
	}
	return &buffer{id: mem, size: size, mode: mode}, nil
}

func (c *context) Release() error {
	return check("clReleaseContext", C.clReleaseContext(c.id))
}

type queue struct {
	id C.cl_command_queue
}

func (q *queue) Write(buf driver.Buffer, src []byte) error {
	b := buf.(*buffer)
	status := C.clEnqueueWriteBuffer(q.id, b.id, C.CL_TRUE, 0, C.size_t(len(src)), unsafe.Pointer(&src[0]), 0, nil, nil)
	return check("clEnqueueWriteBuffer", status)
}

func (q *queue) Read(buf driver.Buffer, dst []byte) error {
	b := buf.(*buffer)
	status := C.clEnqueueReadBuffer(q.id, b.id, C.CL_TRUE, 0, C.size_t(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	return check("clEnqueueReadBuffer", status)
}

func (q *queue) EnqueueNDRange(k driver.Kernel, global, local []int) error {
	kern := k.(*kernel)
	g := sizes(global)
	var lp *C.size_t
	if local != nil {
		l := sizes(local)
		lp = &l[0]
	}
	status := C.clEnqueueNDRangeKernel(q.id, kern.id, C.cl_uint(len(g)), nil, &g[0], lp, 0, nil, nil)
	return check("clEnqueueNDRangeKernel", status)
}

func (q *queue) Finish() error {
	return check("clFinish", C.clFinish(q.id))
}

func (q *queue) Release() error {
	return check("clReleaseCommandQueue", C.clReleaseCommandQueue(q.id))
}

type program struct {
	id  C.cl_program
	ctx *context
}

func (p *program) Build(options string) error {
	var opts *C.char
	if options != "" {
		opts = C.CString(options)
		defer C.free(unsafe.Pointer(opts))
	}
	return check("clBuildProgram", C.clBuildProgram(p.id, 1, &p.ctx.dev.id, opts, nil, nil))
}

func (p *program) BuildLog() (string, error) {
	var size C.size_t
	status := C.clGetProgramBuildInfo(p.id, p.ctx.dev.id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetProgramBuildInfo(p.id, p.ctx.dev.id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(value)", status)
	}
	return trimNull(buf), nil
}

func (p *program) KernelNames() ([]string, error) {
	var size C.size_t
	status := C.clGetProgramInfo(p.id, C.CL_PROGRAM_KERNEL_NAMES, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetProgramInfo(size)", status)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, int(size))
	status = C.clGetProgramInfo(p.id, C.CL_PROGRAM_KERNEL_NAMES, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetProgramInfo(value)", status)
	}
	var names []string
	for _, n := range strings.Split(trimNull(buf), ";") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *program) NewKernel(name string) (driver.Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var status C.cl_int
	id := C.clCreateKernel(p.id, cname, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateKernel", status)
	}
	return &kernel{id: id, name: name, prog: p}, nil
}

func (p *program) Release() error {
	return check("clReleaseProgram", C.clReleaseProgram(p.id))
}

type kernel struct {
	id   C.cl_kernel
	name string
	prog *program
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) NumArgs() (int, error) {
	var n C.cl_uint
	status := C.clGetKernelInfo(k.id, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(n)), unsafe.Pointer(&n), nil)
	if status != C.CL_SUCCESS {
		return 0, statusError("clGetKernelInfo(numArgs)", status)
	}
	return int(n), nil
}

// ArgInfo needs the program to be built with -cl-kernel-arg-info; without it
// most drivers answer CL_KERNEL_ARG_INFO_NOT_AVAILABLE.
func (k *kernel) ArgInfo(index int) (driver.ArgInfo, error) {
	idx := C.cl_uint(index)

	var space C.cl_kernel_arg_address_qualifier
	status := C.clGetKernelArgInfo(k.id, idx, C.CL_KERNEL_ARG_ADDRESS_QUALIFIER, C.size_t(unsafe.Sizeof(space)), unsafe.Pointer(&space), nil)
	if status != C.CL_SUCCESS {
		return driver.ArgInfo{}, statusError("clGetKernelArgInfo(address)", status)
	}
	var qual C.cl_kernel_arg_type_qualifier
	status = C.clGetKernelArgInfo(k.id, idx, C.CL_KERNEL_ARG_TYPE_QUALIFIER, C.size_t(unsafe.Sizeof(qual)), unsafe.Pointer(&qual), nil)
	if status != C.CL_SUCCESS {
		return driver.ArgInfo{}, statusError("clGetKernelArgInfo(qualifier)", status)
	}
	typeName, err := getArgString(k.id, idx, C.CL_KERNEL_ARG_TYPE_NAME)
	if err != nil {
		return driver.ArgInfo{}, err
	}
	name, err := getArgString(k.id, idx, C.CL_KERNEL_ARG_NAME)
	if err != nil {
		return driver.ArgInfo{}, err
	}

	info := driver.ArgInfo{
		Name:     name,
		TypeName: typeName,
		Const:    qual&C.CL_KERNEL_ARG_TYPE_CONST != 0,
	}
	switch space {
	case C.CL_KERNEL_ARG_ADDRESS_GLOBAL:
		info.Space = driver.AddressGlobal
	case C.CL_KERNEL_ARG_ADDRESS_CONSTANT:
		info.Space = driver.AddressConstant
		info.Const = true
	case C.CL_KERNEL_ARG_ADDRESS_LOCAL:
		info.Space = driver.AddressLocal
	default:
		info.Space = driver.AddressPrivate
	}
	return info, nil
}

func (k *kernel) Limits() (driver.KernelLimits, error) {
	dev := k.prog.ctx.dev.id
	var group C.size_t
	status := C.clGetKernelWorkGroupInfo(k.id, dev, C.CL_KERNEL_WORK_GROUP_SIZE, C.size_t(unsafe.Sizeof(group)), unsafe.Pointer(&group), nil)
	if status != C.CL_SUCCESS {
		return driver.KernelLimits{}, statusError("clGetKernelWorkGroupInfo(size)", status)
	}
	var local C.cl_ulong
	status = C.clGetKernelWorkGroupInfo(k.id, dev, C.CL_KERNEL_LOCAL_MEM_SIZE, C.size_t(unsafe.Sizeof(local)), unsafe.Pointer(&local), nil)
	if status != C.CL_SUCCESS {
		return driver.KernelLimits{}, statusError("clGetKernelWorkGroupInfo(localMem)", status)
	}
	return driver.KernelLimits{WorkGroupSize: int(group), LocalMemSize: int64(local)}, nil
}

func (k *kernel) SetArgBuffer(index int, buf driver.Buffer) error {
	b, ok := buf.(*buffer)
	if !ok {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidMemObject}
	}
	mem := b.id
	status := C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	return check("clSetKernelArg", status)
}

func (k *kernel) SetArgValue(index int, value []byte) error {
	if len(value) == 0 {
		return &driver.StatusError{Op: "clSetKernelArg", Status: driver.StatusInvalidArgSize}
	}
	status := C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(len(value)), unsafe.Pointer(&value[0]))
	return check("clSetKernelArg", status)
}

func (k *kernel) SetArgLocal(index int, size int) error {
	return check("clSetKernelArg", C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(size), nil))
}

func (k *kernel) Release() error {
	return check("clReleaseKernel", C.clReleaseKernel(k.id))
}

type buffer struct {
	id   C.cl_mem
	size int
	mode driver.AccessMode
}

func (b *buffer) Size() int               { return b.size }
func (b *buffer) Mode() driver.AccessMode { return b.mode }

func (b *buffer) Release() error {
	return check("clReleaseMemObject", C.clReleaseMemObject(b.id))
}

func buildDeviceInfo(id C.cl_device_id) (driver.DeviceInfo, error) {
	var info driver.DeviceInfo
	var err error
	if info.Name, err = getDeviceString(id, C.CL_DEVICE_NAME); err != nil {
		return info, err
	}
	if info.Vendor, err = getDeviceString(id, C.CL_DEVICE_VENDOR); err != nil {
		return info, err
	}
	if info.Version, err = getDeviceString(id, C.CL_DEVICE_VERSION); err != nil {
		return info, err
	}

	var rawType C.cl_device_type
	if err := getDeviceValue(id, C.CL_DEVICE_TYPE, unsafe.Pointer(&rawType), unsafe.Sizeof(rawType)); err != nil {
		return info, err
	}
	info.Class = mapDeviceType(rawType)

	var units C.cl_uint
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Pointer(&units), unsafe.Sizeof(units)); err != nil {
		return info, err
	}
	info.MaxComputeUnits = uint32(units)

	var group C.size_t
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Pointer(&group), unsafe.Sizeof(group)); err != nil {
		return info, err
	}
	info.MaxWorkGroupSize = int(group)

	var dims C.cl_uint
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_WORK_ITEM_DIMENSIONS, unsafe.Pointer(&dims), unsafe.Sizeof(dims)); err != nil {
		return info, err
	}
	if dims > 0 {
		items := make([]C.size_t, int(dims))
		if err := getDeviceValue(id, C.CL_DEVICE_MAX_WORK_ITEM_SIZES, unsafe.Pointer(&items[0]), uintptr(len(items))*unsafe.Sizeof(items[0])); err != nil {
			return info, err
		}
		info.MaxWorkItemSizes = make([]int, len(items))
		for i, v := range items {
			info.MaxWorkItemSizes[i] = int(v)
		}
	}

	var local, global, alloc C.cl_ulong
	if err := getDeviceValue(id, C.CL_DEVICE_LOCAL_MEM_SIZE, unsafe.Pointer(&local), unsafe.Sizeof(local)); err != nil {
		return info, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_GLOBAL_MEM_SIZE, unsafe.Pointer(&global), unsafe.Sizeof(global)); err != nil {
		return info, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_MEM_ALLOC_SIZE, unsafe.Pointer(&alloc), unsafe.Sizeof(alloc)); err != nil {
		return info, err
	}
	info.LocalMemSize = int64(local)
	info.GlobalMemSize = int64(global)
	info.MaxMemAllocSize = int64(alloc)
	return info, nil
}

func getDeviceValue(id C.cl_device_id, param C.cl_device_info, dst unsafe.Pointer, size uintptr) error {
	status := C.clGetDeviceInfo(id, param, C.size_t(size), dst, nil)
	return check("clGetDeviceInfo", status)
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getArgString(id C.cl_kernel, idx C.cl_uint, param C.cl_kernel_arg_info) (string, error) {
	var size C.size_t
	status := C.clGetKernelArgInfo(id, idx, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelArgInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetKernelArgInfo(id, idx, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelArgInfo(value)", status)
	}
	return trimNull(buf), nil
}

func sizes(v []int) []C.size_t {
	out := make([]C.size_t, len(v))
	for i, n := range v {
		out[i] = C.size_t(n)
	}
	return out
}

func trimNull(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}

func mapDeviceType(dt C.cl_device_type) driver.DeviceClass {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return driver.ClassGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return driver.ClassCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return driver.ClassAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return driver.ClassDefault
	default:
		return driver.ClassUnknown
	}
}

func check(op string, status C.cl_int) error {
	if status == C.CL_SUCCESS {
		return nil
	}
	return statusError(op, status)
}

func statusError(op string, status C.cl_int) error {
	return &driver.StatusError{Op: op, Status: driver.Status(status)}
}
