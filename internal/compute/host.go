package compute

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Element is a fixed-size scalar type that can live in a device buffer or be
// passed to a kernel by value.
type Element interface {
	constraints.Float | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ByteSize is the size in bytes of n elements of T.
func ByteSize[T Element](n int) int {
	var zero T
	return n * int(unsafe.Sizeof(zero))
}

// AsBytes views s as raw bytes without copying.
func AsBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), ByteSize[T](len(s)))
}

// UploadSlice copies a host array into b.
func UploadSlice[T Element](s *Session, b *Buffer, src []T) error {
	return s.Upload(b, AsBytes(src))
}

// DownloadSlice fills dst from b.
func DownloadSlice[T Element](s *Session, b *Buffer, dst []T) error {
	return s.Download(b, AsBytes(dst))
}

// CreateBufferFor allocates a buffer sized for n elements of T.
func CreateBufferFor[T Element](s *Session, name string, n int, mode AccessMode) (*Buffer, error) {
	return s.CreateBuffer(name, ByteSize[T](n), mode)
}

// Value is a kernel argument passed by value.
type Value struct {
	bytes []byte
}

// Size is the argument size in bytes.
func (v Value) Size() int { return len(v.bytes) }

// Scalar encodes v in host byte order.
func Scalar[T Element](v T) Value {
	b, err := binary.Append(nil, binary.NativeEndian, v)
	if err != nil {
		// Element only admits fixed-size types.
		panic(err)
	}
	return Value{bytes: b}
}
