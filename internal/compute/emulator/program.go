package emulator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

var (
	kernelDecl     = regexp.MustCompile(`(?s)(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
	errorDirective = regexp.MustCompile(`(?m)^\s*#\s*error\b[ \t]*(.*)$`)
	identifier     = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// scalarSizes are the byte sizes of the OpenCL scalar types kernels may take by value.
var scalarSizes = map[string]int{
	"char": 1, "uchar": 1, "bool": 1,
	"short": 2, "ushort": 2, "half": 2,
	"int": 4, "uint": 4, "float": 4,
	"long": 8, "ulong": 8, "double": 8, "size_t": 8,
}

type declaration struct {
	name   string
	params []driver.ArgInfo
}

type program struct {
	ctx      *context
	source   string
	decls    map[string]declaration
	log      string
	built    bool
	kernels  int
	released bool
}

func (p *program) Build(options string) error {
	p.ctx.drv.stats.Builds++
	if p.released {
		return &driver.StatusError{Op: "clBuildProgram", Status: driver.StatusInvalidProgram}
	}
	if err := p.ctx.drv.fault("clBuildProgram"); err != nil {
		return err
	}

	decls, diagnostics := p.compile()
	p.log = strings.Join(diagnostics, "\n")
	if len(diagnostics) > 0 {
		return &driver.StatusError{Op: "clBuildProgram", Status: driver.StatusBuildProgramFailure}
	}
	p.decls = decls
	p.built = true
	return nil
}

// compile checks the source the way the emulator can: #error directives
// fail the build, and every declared entry point needs a host implementation.
func (p *program) compile() (map[string]declaration, []string) {
	var diagnostics []string

	for _, m := range errorDirective.FindAllStringSubmatchIndex(p.source, -1) {
		line := strings.Count(p.source[:m[0]], "\n") + 1
		msg := strings.TrimSpace(p.source[m[2]:m[3]])
		diagnostics = append(diagnostics, fmt.Sprintf("<source>:%d:2: error: %s", line, msg))
	}

	decls := make(map[string]declaration)
	for _, m := range kernelDecl.FindAllStringSubmatchIndex(p.source, -1) {
		name := p.source[m[2]:m[3]]
		line := strings.Count(p.source[:m[0]], "\n") + 1
		if _, dup := decls[name]; dup {
			diagnostics = append(diagnostics, fmt.Sprintf("<source>:%d:1: error: redefinition of '%s'", line, name))
			continue
		}
		if _, ok := p.ctx.drv.kernels[name]; !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("<source>:%d:1: error: kernel '%s' has no host implementation", line, name))
			continue
		}
		params, err := parseParams(p.source[m[4]:m[5]])
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("<source>:%d:1: error: kernel '%s': %v", line, name, err))
			continue
		}
		decls[name] = declaration{name: name, params: params}
	}
	return decls, diagnostics
}

func parseParams(list string) ([]driver.ArgInfo, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	params := make([]driver.ArgInfo, 0, len(parts))
	for _, part := range parts {
		arg, err := parseParam(part)
		if err != nil {
			return nil, err
		}
		params = append(params, arg)
	}
	return params, nil
}

func parseParam(decl string) (driver.ArgInfo, error) {
	tokens := identifier.FindAllString(decl, -1)
	if len(tokens) < 2 {
		return driver.ArgInfo{}, fmt.Errorf("malformed parameter %q", strings.TrimSpace(decl))
	}
	arg := driver.ArgInfo{Name: tokens[len(tokens)-1]}
	var typeParts []string
	for _, tok := range tokens[:len(tokens)-1] {
		switch tok {
		case "__global", "global":
			arg.Space = driver.AddressGlobal
		case "__local", "local":
			arg.Space = driver.AddressLocal
		case "__constant", "constant":
			arg.Space = driver.AddressConstant
		case "__private", "private":
			arg.Space = driver.AddressPrivate
		case "const":
			arg.Const = true
		case "restrict", "__restrict", "volatile":
		default:
			typeParts = append(typeParts, tok)
		}
	}
	arg.TypeName = strings.Join(typeParts, " ")
	if strings.Contains(decl, "*") {
		arg.TypeName += "*"
	}
	return arg, nil
}

func (p *program) BuildLog() (string, error) {
	if p.released {
		return "", &driver.StatusError{Op: "clGetProgramBuildInfo", Status: driver.StatusInvalidProgram}
	}
	return p.log, nil
}

func (p *program) KernelNames() ([]string, error) {
	if !p.built {
		return nil, &driver.StatusError{Op: "clGetProgramInfo", Status: driver.StatusInvalidProgramExecutable}
	}
	names := make([]string, 0, len(p.decls))
	for name := range p.decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *program) NewKernel(name string) (driver.Kernel, error) {
	if p.released {
		return nil, &driver.StatusError{Op: "clCreateKernel", Status: driver.StatusInvalidProgram}
	}
	if err := p.ctx.drv.fault("clCreateKernel"); err != nil {
		return nil, err
	}
	if !p.built {
		return nil, &driver.StatusError{Op: "clCreateKernel", Status: driver.StatusInvalidProgramExecutable}
	}
	decl, ok := p.decls[name]
	if !ok {
		return nil, &driver.StatusError{Op: "clCreateKernel", Status: driver.StatusInvalidKernelName}
	}
	p.ctx.drv.stats.Kernels++
	p.kernels++
	return &kernel{
		prog: p,
		decl: decl,
		fn:   p.ctx.drv.kernels[name],
		args: make([]argSlot, len(decl.params)),
	}, nil
}

func (p *program) Release() error {
	if p.released {
		return &driver.StatusError{Op: "clReleaseProgram", Status: driver.StatusInvalidProgram}
	}
	if err := p.ctx.drv.fault("clReleaseProgram"); err != nil {
		return err
	}
	if p.kernels > 0 {
		return &driver.StatusError{Op: "clReleaseProgram", Status: driver.StatusInvalidOperation}
	}
	p.released = true
	p.ctx.drop()
	p.ctx.drv.released("program")
	return nil
}
