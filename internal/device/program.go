package device

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// KernelFunc is the body of one kernel. It is invoked once per global
// work item with the launch arguments; bodies unpack args positionally
// the way a real kernel binds its parameters.
type KernelFunc func(gid int, args []any)

// Program is a compiled kernel container. Loading sources counts as one
// compilation; handing out kernel handles is free afterwards.
type Program struct {
	dev      *Device
	name     string
	kernels  map[string]KernelFunc
	compiled bool

	compileCount atomic.Int64
}

// NewProgram creates an empty program bound to a device.
func NewProgram(dev *Device, name string) *Program {
	return &Program{dev: dev, name: name}
}

// Load compiles the given kernel set into the program. Each call counts
// as a full compilation.
func (p *Program) Load(kernels map[string]KernelFunc) {
	p.kernels = make(map[string]KernelFunc, len(kernels))
	for name, fn := range kernels {
		p.kernels[name] = fn
	}
	p.compiled = true
	p.compileCount.Add(1)
	p.dev.log.Debug("program compiled",
		zap.String("program", p.name),
		zap.Int("kernels", len(kernels)))
}

// CompileCount reports how many times the program has been compiled.
func (p *Program) CompileCount() int64 { return p.compileCount.Load() }

// Kernel returns a stable handle for a named kernel.
func (p *Program) Kernel(name string) (*Kernel, error) {
	if !p.compiled {
		return nil, fmt.Errorf("%w: %s", ErrNotCompiled, p.name)
	}
	fn, ok := p.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnknownKernel, name, p.name)
	}
	return &Kernel{name: name, fn: fn}, nil
}

// Clear releases compiled state. Idempotent.
func (p *Program) Clear() {
	p.kernels = nil
	p.compiled = false
}

// Kernel is a handle on one compiled kernel function. Handles are
// read-only after compilation and safe to launch concurrently.
type Kernel struct {
	name string
	fn   KernelFunc
}

func (k *Kernel) Name() string { return k.name }
