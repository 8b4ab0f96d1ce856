package driver

import (
	"errors"
	"fmt"
)

// Status is a driver status code. Values follow the OpenCL numbering so the
// codes reported by every driver read the same in diagnostics.
type Status int32

const (
	StatusSuccess                   Status = 0
	StatusDeviceNotFound            Status = -1
	StatusDeviceNotAvailable        Status = -2
	StatusCompilerNotAvailable      Status = -3
	StatusMemObjectAllocationFailed Status = -4
	StatusOutOfResources            Status = -5
	StatusOutOfHostMemory           Status = -6
	StatusBuildProgramFailure       Status = -11
	StatusKernelArgInfoNotAvailable Status = -19
	StatusInvalidValue              Status = -30
	StatusInvalidDeviceType         Status = -31
	StatusInvalidPlatform           Status = -32
	StatusInvalidDevice             Status = -33
	StatusInvalidContext            Status = -34
	StatusInvalidCommandQueue       Status = -36
	StatusInvalidMemObject          Status = -38
	StatusInvalidBuildOptions       Status = -43
	StatusInvalidProgram            Status = -44
	StatusInvalidProgramExecutable  Status = -45
	StatusInvalidKernelName         Status = -46
	StatusInvalidKernel             Status = -48
	StatusInvalidArgIndex           Status = -49
	StatusInvalidArgValue           Status = -50
	StatusInvalidArgSize            Status = -51
	StatusInvalidKernelArgs         Status = -52
	StatusInvalidWorkDimension      Status = -53
	StatusInvalidWorkGroupSize      Status = -54
	StatusInvalidWorkItemSize       Status = -55
	StatusInvalidOperation          Status = -59
	StatusInvalidBufferSize         Status = -61
	StatusPlatformNotFound          Status = -1001
)

var statusNames = map[Status]string{
	StatusSuccess:                   "CL_SUCCESS",
	StatusDeviceNotFound:            "CL_DEVICE_NOT_FOUND",
	StatusDeviceNotAvailable:        "CL_DEVICE_NOT_AVAILABLE",
	StatusCompilerNotAvailable:      "CL_COMPILER_NOT_AVAILABLE",
	StatusMemObjectAllocationFailed: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	StatusOutOfResources:            "CL_OUT_OF_RESOURCES",
	StatusOutOfHostMemory:           "CL_OUT_OF_HOST_MEMORY",
	-7:                              "CL_PROFILING_INFO_NOT_AVAILABLE",
	-8:                              "CL_MEM_COPY_OVERLAP",
	-9:                              "CL_IMAGE_FORMAT_MISMATCH",
	-10:                             "CL_IMAGE_FORMAT_NOT_SUPPORTED",
	StatusBuildProgramFailure:       "CL_BUILD_PROGRAM_FAILURE",
	-12:                             "CL_MAP_FAILURE",
	-13:                             "CL_MISALIGNED_SUB_BUFFER_OFFSET",
	-14:                             "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	-15:                             "CL_COMPILE_PROGRAM_FAILURE",
	-16:                             "CL_LINKER_NOT_AVAILABLE",
	-17:                             "CL_LINK_PROGRAM_FAILURE",
	-18:                             "CL_DEVICE_PARTITION_FAILED",
	StatusKernelArgInfoNotAvailable: "CL_KERNEL_ARG_INFO_NOT_AVAILABLE",
	StatusInvalidValue:              "CL_INVALID_VALUE",
	StatusInvalidDeviceType:         "CL_INVALID_DEVICE_TYPE",
	StatusInvalidPlatform:           "CL_INVALID_PLATFORM",
	StatusInvalidDevice:             "CL_INVALID_DEVICE",
	StatusInvalidContext:            "CL_INVALID_CONTEXT",
	-35:                             "CL_INVALID_QUEUE_PROPERTIES",
	StatusInvalidCommandQueue:       "CL_INVALID_COMMAND_QUEUE",
	-37:                             "CL_INVALID_HOST_PTR",
	StatusInvalidMemObject:          "CL_INVALID_MEM_OBJECT",
	-39:                             "CL_INVALID_IMAGE_FORMAT_DESCRIPTOR",
	-40:                             "CL_INVALID_IMAGE_SIZE",
	-41:                             "CL_INVALID_SAMPLER",
	-42:                             "CL_INVALID_BINARY",
	StatusInvalidBuildOptions:       "CL_INVALID_BUILD_OPTIONS",
	StatusInvalidProgram:            "CL_INVALID_PROGRAM",
	StatusInvalidProgramExecutable:  "CL_INVALID_PROGRAM_EXECUTABLE",
	StatusInvalidKernelName:         "CL_INVALID_KERNEL_NAME",
	-47:                             "CL_INVALID_KERNEL_DEFINITION",
	StatusInvalidKernel:             "CL_INVALID_KERNEL",
	StatusInvalidArgIndex:           "CL_INVALID_ARG_INDEX",
	StatusInvalidArgValue:           "CL_INVALID_ARG_VALUE",
	StatusInvalidArgSize:            "CL_INVALID_ARG_SIZE",
	StatusInvalidKernelArgs:         "CL_INVALID_KERNEL_ARGS",
	StatusInvalidWorkDimension:      "CL_INVALID_WORK_DIMENSION",
	StatusInvalidWorkGroupSize:      "CL_INVALID_WORK_GROUP_SIZE",
	StatusInvalidWorkItemSize:       "CL_INVALID_WORK_ITEM_SIZE",
	-56:                             "CL_INVALID_GLOBAL_OFFSET",
	-57:                             "CL_INVALID_EVENT_WAIT_LIST",
	-58:                             "CL_INVALID_EVENT",
	StatusInvalidOperation:          "CL_INVALID_OPERATION",
	-60:                             "CL_INVALID_GL_OBJECT",
	StatusInvalidBufferSize:         "CL_INVALID_BUFFER_SIZE",
	-62:                             "CL_INVALID_MIP_LEVEL",
	-63:                             "CL_INVALID_GLOBAL_WORK_SIZE",
	StatusPlatformNotFound:          "CL_PLATFORM_NOT_FOUND_KHR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "CL_UNKNOWN_ERROR"
}

// StatusError is a failed driver call.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// Errorf builds a StatusError for op.
func Errorf(status Status, format string, args ...any) error {
	return &StatusError{Op: fmt.Sprintf(format, args...), Status: status}
}

// StatusOf extracts the driver status carried by err, if any.
func StatusOf(err error) (Status, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return StatusSuccess, false
}
