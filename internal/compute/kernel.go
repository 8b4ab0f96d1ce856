package compute

import (
	"fmt"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

type bindKind int

const (
	unbound bindKind = iota
	boundBuffer
	boundValue
	boundLocal
)

type binding struct {
	kind   bindKind
	buffer *Buffer
	size   int
}

// Kernel is one entry point of a built program together with its argument
// bindings.
type Kernel struct {
	sess *Session
	prog *Program
	name string
	obj  driver.Kernel
	res  *resource

	args   []binding
	params []driver.ArgInfo // nil when the driver keeps no argument metadata
	limits driver.KernelLimits
}

func (k *Kernel) describe() error {
	op := "describe kernel " + k.name
	n, err := k.obj.NumArgs()
	if err != nil {
		return wrap(KindEntryPoint, op, err)
	}
	k.args = make([]binding, n)

	params := make([]driver.ArgInfo, n)
	for i := range params {
		info, err := k.obj.ArgInfo(i)
		if err != nil {
			if status, ok := driver.StatusOf(err); ok && status == driver.StatusKernelArgInfoNotAvailable {
				k.sess.logger.Debug("Kernel argument metadata unavailable", "kernel", k.name)
				params = nil
				break
			}
			return wrap(KindEntryPoint, op, err)
		}
		params[i] = info
	}
	k.params = params

	limits, err := k.obj.Limits()
	if err != nil {
		return wrap(KindEntryPoint, op, err)
	}
	k.limits = limits
	return nil
}

// Name is the entry point name.
func (k *Kernel) Name() string { return k.name }

// NumArgs is the number of declared parameters.
func (k *Kernel) NumArgs() int { return len(k.args) }

// Params returns the declared parameters, or nil when the driver did not
// keep argument metadata.
func (k *Kernel) Params() []driver.ArgInfo { return k.params }

// Limits returns the per-kernel limits the driver reported for the device.
func (k *Kernel) Limits() driver.KernelLimits { return k.limits }

// Bound reports whether every argument slot has been bound.
func (k *Kernel) Bound() bool {
	for _, b := range k.args {
		if b.kind == unbound {
			return false
		}
	}
	return true
}

// BoundLocalMem is the total local memory bound through BindLocal.
func (k *Kernel) BoundLocalMem() int {
	total := 0
	for _, b := range k.args {
		if b.kind == boundLocal {
			total += b.size
		}
	}
	return total
}

// Release frees the kernel before teardown.
func (k *Kernel) Release() error {
	return k.sess.life.release(k.res)
}

func (k *Kernel) checkSlot(op string, index int) error {
	if err := k.sess.life.checkOpen(op); err != nil {
		return err
	}
	if k.res.released {
		return failf(KindDispatch, op, "kernel %s was released", k.name)
	}
	if index < 0 || index >= len(k.args) {
		return failf(KindDispatch, op, "kernel %s has %d arguments", k.name, len(k.args))
	}
	return nil
}

func (k *Kernel) param(index int) (driver.ArgInfo, bool) {
	if k.params == nil {
		return driver.ArgInfo{}, false
	}
	return k.params[index], true
}

// BindBuffer binds b to argument index.
func (k *Kernel) BindBuffer(index int, b *Buffer) error {
	op := fmt.Sprintf("bind %s arg %d", k.name, index)
	if err := k.checkSlot(op, index); err != nil {
		return err
	}
	if b == nil || b.sess != k.sess {
		return failf(KindDispatch, op, "buffer does not belong to this session")
	}
	if b.res.released {
		return failf(KindDispatch, op, "buffer %s was released", b.name)
	}
	if p, ok := k.param(index); ok {
		if p.Space != driver.AddressGlobal && p.Space != driver.AddressConstant {
			return failf(KindDispatch, op, "parameter %s is %s %s, not a buffer", p.Name, p.Space, p.TypeName)
		}
		writable := p.Space == driver.AddressGlobal && !p.Const
		if b.mode == ReadOnly && writable {
			return failf(KindDispatch, op, "read-only buffer %s bound to writable parameter %s", b.name, p.Name)
		}
		if b.mode == WriteOnly && !writable {
			return failf(KindDispatch, op, "write-only buffer %s bound to read-only parameter %s", b.name, p.Name)
		}
	}
	if err := k.obj.SetArgBuffer(index, b.obj); err != nil {
		return wrap(KindDispatch, op, err)
	}
	k.args[index] = binding{kind: boundBuffer, buffer: b, size: b.size}
	return nil
}

// BindScalar binds a by-value argument.
func (k *Kernel) BindScalar(index int, v Value) error {
	op := fmt.Sprintf("bind %s arg %d", k.name, index)
	if err := k.checkSlot(op, index); err != nil {
		return err
	}
	if v.Size() == 0 {
		return failf(KindDispatch, op, "empty value")
	}
	if p, ok := k.param(index); ok && p.Space != driver.AddressPrivate {
		return failf(KindDispatch, op, "parameter %s is a %s pointer, not a value", p.Name, p.Space)
	}
	if err := k.obj.SetArgValue(index, v.bytes); err != nil {
		return wrap(KindDispatch, op, err)
	}
	k.args[index] = binding{kind: boundValue, size: v.Size()}
	return nil
}

// BindLocal reserves size bytes of per-work-group local memory for argument index.
func (k *Kernel) BindLocal(index, size int) error {
	op := fmt.Sprintf("bind %s arg %d", k.name, index)
	if err := k.checkSlot(op, index); err != nil {
		return err
	}
	if size <= 0 {
		return failf(KindDispatch, op, "invalid local memory size %d", size)
	}
	if p, ok := k.param(index); ok && p.Space != driver.AddressLocal {
		return failf(KindDispatch, op, "parameter %s is not in local memory", p.Name)
	}
	if err := k.obj.SetArgLocal(index, size); err != nil {
		return wrap(KindDispatch, op, err)
	}
	k.args[index] = binding{kind: boundLocal, size: size}
	return nil
}

// BindArgs binds each value to the argument at the same position. Supported
// values are *Buffer, Value and Local.
func (k *Kernel) BindArgs(args ...any) error {
	if len(args) != len(k.args) {
		return failf(KindDispatch, "bind "+k.name, "got %d arguments, kernel takes %d", len(args), len(k.args))
	}
	for i, a := range args {
		var err error
		switch v := a.(type) {
		case *Buffer:
			err = k.BindBuffer(i, v)
		case Value:
			err = k.BindScalar(i, v)
		case Local:
			err = k.BindLocal(i, int(v))
		default:
			err = failf(KindDispatch, fmt.Sprintf("bind %s arg %d", k.name, i), "unsupported argument type %T", a)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Local is a local memory reservation in bytes, for BindArgs.
type Local int
