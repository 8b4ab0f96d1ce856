package compute

import (
	"fmt"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Buffer is a device-resident region of fixed size.
type Buffer struct {
	sess *Session
	name string
	obj  driver.Buffer
	size int
	mode AccessMode
	res  *resource
}

// CreateBuffer allocates size bytes on the device.
func (s *Session) CreateBuffer(name string, size int, mode AccessMode) (*Buffer, error) {
	op := "create buffer " + name
	if err := s.life.checkOpen(op); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, failf(KindAllocation, op, "invalid size %d", size)
	}
	if max := s.info.MaxMemAllocSize; max > 0 && int64(size) > max {
		return nil, failf(KindAllocation, op, "%d bytes exceeds device max allocation of %d bytes", size, max)
	}

	obj, err := s.context.NewBuffer(size, mode)
	if err != nil {
		return nil, wrap(KindAllocation, op, err)
	}
	b := &Buffer{sess: s, name: name, obj: obj, size: size, mode: mode}
	b.res = s.life.acquire("buffer", name, s.contextRes, obj.Release)
	s.logger.Debug("Buffer allocated", "buffer", name, "bytes", size, "mode", mode)
	return b, nil
}

// Name is the diagnostic name given at creation.
func (b *Buffer) Name() string { return b.name }

// Size is the allocated size in bytes.
func (b *Buffer) Size() int { return b.size }

// Mode is the kernel access mode.
func (b *Buffer) Mode() AccessMode { return b.mode }

// Release frees the buffer before teardown.
func (b *Buffer) Release() error {
	return b.sess.life.release(b.res)
}

func (b *Buffer) usable(op string, n int) error {
	if err := b.sess.life.checkOpen(op); err != nil {
		return err
	}
	if b.res.released {
		return failf(KindTransfer, op, "buffer %s was released", b.name)
	}
	if n > b.size {
		return failf(KindTransfer, op, "%d bytes do not fit buffer %s of %d bytes", n, b.name, b.size)
	}
	return nil
}

// Upload copies src into b and blocks until the copy completes.
func (s *Session) Upload(b *Buffer, src []byte) error {
	op := "upload " + b.name
	if b.sess != s {
		return &Error{Kind: KindTransfer, Op: op, Err: fmt.Errorf("buffer belongs to another session")}
	}
	if err := b.usable(op, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	if err := s.queue.Write(b.obj, src); err != nil {
		return wrap(KindTransfer, op, err)
	}
	s.logger.Debug("Uploaded", "buffer", b.name, "bytes", len(src))
	return nil
}

// Download copies b into dst and blocks until the copy completes.
func (s *Session) Download(b *Buffer, dst []byte) error {
	op := "download " + b.name
	if b.sess != s {
		return &Error{Kind: KindTransfer, Op: op, Err: fmt.Errorf("buffer belongs to another session")}
	}
	if err := b.usable(op, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if err := s.queue.Read(b.obj, dst); err != nil {
		return wrap(KindTransfer, op, err)
	}
	s.logger.Debug("Downloaded", "buffer", b.name, "bytes", len(dst))
	return nil
}
