package compute

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Kind classifies a harness failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlatform
	KindDevice
	KindContext
	KindQueue
	KindIO
	KindCompile
	KindEntryPoint
	KindAllocation
	KindTransfer
	KindWorkSize
	KindDispatch
	KindTeardown
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindPlatform:   "platform",
	KindDevice:     "device",
	KindContext:    "context",
	KindQueue:      "queue",
	KindIO:         "io",
	KindCompile:    "compile",
	KindEntryPoint: "entry point",
	KindAllocation: "allocation",
	KindTransfer:   "transfer",
	KindWorkSize:   "work size",
	KindDispatch:   "dispatch",
	KindTeardown:   "teardown",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Error is the single error type returned by the harness. Code carries the
// driver status when the failure came from the driver; Log carries the full
// build log of a compile failure.
type Error struct {
	Kind Kind
	Op   string
	Code driver.Status
	Log  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrPlatform   = &Error{Kind: KindPlatform}
	ErrDevice     = &Error{Kind: KindDevice}
	ErrContext    = &Error{Kind: KindContext}
	ErrQueue      = &Error{Kind: KindQueue}
	ErrIO         = &Error{Kind: KindIO}
	ErrCompile    = &Error{Kind: KindCompile}
	ErrEntryPoint = &Error{Kind: KindEntryPoint}
	ErrAllocation = &Error{Kind: KindAllocation}
	ErrTransfer   = &Error{Kind: KindTransfer}
	ErrWorkSize   = &Error{Kind: KindWorkSize}
	ErrDispatch   = &Error{Kind: KindDispatch}
	ErrTeardown   = &Error{Kind: KindTeardown}
)

// wrap classifies a driver failure.
func wrap(kind Kind, op string, err error) *Error {
	code, _ := driver.StatusOf(err)
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

func failf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// BuildLog returns the compiler log carried by err, if any.
func BuildLog(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindCompile && e.Log != "" {
		return e.Log, true
	}
	return "", false
}
