package compute

import (
	"fmt"
	"log/slog"

	"go.uber.org/multierr"
)

// resource is one acquired driver handle. parent is the handle it depends
// on; deps counts live handles depending on it.
type resource struct {
	kind     string
	name     string
	parent   *resource
	deps     int
	release  func() error
	released bool
}

func (r *resource) label() string {
	if r.name == "" {
		return r.kind
	}
	return r.kind + " " + r.name
}

// Lifecycle records driver handles in acquisition order and releases them
// in reverse. Because a handle is always acquired after the handle it
// depends on, reverse order is dependency order.
type Lifecycle struct {
	stack  []*resource
	closed bool
	logger *slog.Logger
}

func newLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

func (l *Lifecycle) acquire(kind, name string, parent *resource, release func() error) *resource {
	r := &resource{kind: kind, name: name, parent: parent, release: release}
	if parent != nil {
		parent.deps++
	}
	l.stack = append(l.stack, r)
	l.logger.Debug("Acquired", "resource", r.label())
	return r
}

// release frees r ahead of teardown. Releasing twice is a no-op; releasing
// a handle that still has live dependents is refused.
func (l *Lifecycle) release(r *resource) error {
	if r.released {
		return nil
	}
	if r.deps > 0 {
		return failf(KindTeardown, "release "+r.label(), "%d dependent object(s) still alive", r.deps)
	}

	err := r.release()
	// The handle is gone from the harness's point of view even if the driver
	// complained; releasing it again would be a double free.
	r.released = true
	if r.parent != nil {
		r.parent.deps--
	}
	if err != nil {
		return wrap(KindTeardown, "release "+r.label(), err)
	}
	l.logger.Debug("Released", "resource", r.label())
	return nil
}

// Teardown releases every live handle, newest first. Every failure is
// collected; the first call does the work and later calls return nil.
func (l *Lifecycle) Teardown() error {
	if l.closed {
		return nil
	}
	l.closed = true

	var errs error
	for i := len(l.stack) - 1; i >= 0; i-- {
		if err := l.release(l.stack[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	l.stack = nil
	return errs
}

// Closed reports whether Teardown has run.
func (l *Lifecycle) Closed() bool { return l.closed }

// Live returns the labels of unreleased handles, oldest first.
func (l *Lifecycle) Live() []string {
	var out []string
	for _, r := range l.stack {
		if !r.released {
			out = append(out, r.label())
		}
	}
	return out
}

func (l *Lifecycle) checkOpen(op string) error {
	if l.closed {
		return &Error{Kind: KindContext, Op: op, Err: fmt.Errorf("session is closed")}
	}
	return nil
}
