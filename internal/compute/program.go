package compute

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Source is kernel program text.
type Source struct {
	Name string
	Text []byte
}

// LoadSource reads a kernel source file in full.
func LoadSource(path string) (*Source, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "load source", Err: err}
	}
	if len(strings.TrimSpace(string(text))) == 0 {
		return nil, failf(KindIO, "load source", "%s: empty kernel source", path)
	}
	return &Source{Name: filepath.Base(path), Text: text}, nil
}

// NewSource wraps source text held in memory.
func NewSource(name string, text []byte) *Source {
	return &Source{Name: name, Text: text}
}

// ProgramState is the build state of a Program.
type ProgramState int

const (
	Unbuilt ProgramState = iota
	Built
	Failed
)

func (s ProgramState) String() string {
	switch s {
	case Built:
		return "built"
	case Failed:
		return "failed"
	default:
		return "unbuilt"
	}
}

// Program is kernel source compiled for the session device.
type Program struct {
	sess   *Session
	name   string
	obj    driver.Program
	res    *resource
	state  ProgramState
	source *Source
	log    string
}

// NewProgram hands src to the driver. The program keeps the source until it
// has been built.
func (s *Session) NewProgram(src *Source) (*Program, error) {
	if err := s.life.checkOpen("create program"); err != nil {
		return nil, err
	}
	if src == nil || len(src.Text) == 0 {
		return nil, failf(KindIO, "create program", "no kernel source")
	}
	obj, err := s.context.NewProgram(src.Text)
	if err != nil {
		return nil, wrap(KindCompile, "create program "+src.Name, err)
	}
	p := &Program{sess: s, name: src.Name, obj: obj, source: src}
	p.res = s.life.acquire("program", src.Name, s.contextRes, obj.Release)
	return p, nil
}

// Name is the source name the program was created from.
func (p *Program) Name() string { return p.name }

// State returns the build state.
func (p *Program) State() ProgramState { return p.state }

// BuildLog returns the compiler output of the last build.
func (p *Program) BuildLog() string { return p.log }

// Build compiles the program for the session device. A failed build is
// terminal: the returned error carries the complete compiler log and every
// later call fails the same way.
func (p *Program) Build(options string) error {
	switch p.state {
	case Built:
		return nil
	case Failed:
		return &Error{Kind: KindCompile, Op: "build " + p.name, Log: p.log, Err: fmt.Errorf("program already failed to build")}
	}

	logger := p.sess.logger
	logger.Debug("Building program", "program", p.name, "options", options)

	if err := p.obj.Build(options); err != nil {
		p.state = Failed
		log, lerr := p.obj.BuildLog()
		if lerr != nil {
			logger.Error("Failed to fetch build log", "program", p.name, "error", lerr)
		}
		p.log = log
		cerr := wrap(KindCompile, "build "+p.name, err)
		cerr.Log = log
		return cerr
	}

	p.state = Built
	// The driver holds the compiled binary; the text is no longer needed.
	p.source = nil
	if log, err := p.obj.BuildLog(); err == nil {
		p.log = log
	}
	logger.Info("Program built", "program", p.name)
	return nil
}

// EntryPoints lists the kernel names of a built program.
func (p *Program) EntryPoints() ([]string, error) {
	if p.state != Built {
		return nil, failf(KindEntryPoint, "list kernels", "program %s is %s", p.name, p.state)
	}
	names, err := p.obj.KernelNames()
	if err != nil {
		return nil, wrap(KindEntryPoint, "list kernels", err)
	}
	return names, nil
}

// Kernel extracts the named entry point.
func (p *Program) Kernel(name string) (*Kernel, error) {
	op := "create kernel " + name
	if err := p.sess.life.checkOpen(op); err != nil {
		return nil, err
	}
	if p.state != Built {
		return nil, failf(KindEntryPoint, op, "program %s is %s", p.name, p.state)
	}
	if p.res.released {
		return nil, failf(KindEntryPoint, op, "program %s was released", p.name)
	}

	obj, err := p.obj.NewKernel(name)
	if err != nil {
		return nil, wrap(KindEntryPoint, op, err)
	}
	k := &Kernel{sess: p.sess, prog: p, name: name, obj: obj}
	k.res = p.sess.life.acquire("kernel", name, p.res, obj.Release)

	if err := k.describe(); err != nil {
		if rerr := p.sess.life.release(k.res); rerr != nil {
			p.sess.logger.Warn("Release after describe failure", "kernel", name, "error", rerr)
		}
		return nil, err
	}
	return k, nil
}

// Release frees the program before teardown. Every kernel created from it
// must have been released first.
func (p *Program) Release() error {
	return p.sess.life.release(p.res)
}
