// Package kernels holds the OpenCL programs the pipelines run, their host
// reference implementations and the work-group implementations the emulator
// executes in their place.
package kernels

import (
	"embed"
	"sort"

	"github.com/pkg/errors"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/compute/emulator"
)

//go:embed *.cl
var sources embed.FS

// Entry point names declared by the embedded programs.
const (
	EntryJacobi     = "jacobi"
	EntryScalarProd = "scalarProdGPU"
	EntryIdentity   = "copy_buffer"
)

// Program describes one embedded kernel program.
type Program struct {
	Name  string
	File  string
	Entry string
	host  emulator.KernelFunc
}

var programs = map[string]Program{
	"jacobi":     {Name: "jacobi", File: "jacobi.cl", Entry: EntryJacobi, host: emulateJacobi},
	"scalarprod": {Name: "scalarprod", File: "scalarprod.cl", Entry: EntryScalarProd, host: emulateScalarProd},
	"identity":   {Name: "identity", File: "identity.cl", Entry: EntryIdentity, host: emulateCopy},
}

// Names lists the embedded programs.
func Names() []string {
	out := make([]string, 0, len(programs))
	for name := range programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the embedded program called name.
func Lookup(name string) (Program, error) {
	p, ok := programs[name]
	if !ok {
		return Program{}, errors.Errorf("unknown kernel program %q", name)
	}
	return p, nil
}

// Source returns the embedded source of the named program.
func Source(name string) (*compute.Source, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	text, err := sources.ReadFile(p.File)
	if err != nil {
		return nil, errors.Wrapf(err, "read embedded %s", p.File)
	}
	return compute.NewSource(p.File, text), nil
}

// Register installs the host implementation of every embedded entry point.
func Register(d *emulator.Driver) {
	for _, p := range programs {
		d.Register(p.Entry, p.host)
	}
}
