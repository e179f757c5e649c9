package nbor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/gpunbor/internal/device"
)

// KernelCache compiles the neighbor kernel set exactly once per device
// and hands out stable handles to every Store sharing that device.
// Compilation is the most expensive setup cost in the pipeline, so a
// second Compile while already compiled is a silent no-op.
//
// The cache must outlive every Store referencing it: stores hold it by
// plain reference and teardown order is stores first, cache last.
// Compile and Clear are not safe to call concurrently; initialization is
// single-threaded by contract.
type KernelCache struct {
	program      *device.Program
	compiled     bool
	mode         Mode
	compileTotal int64

	cellID     *device.Kernel
	cellCounts *device.Kernel
	build      *device.Kernel
	transpose  *device.Kernel
	special    *device.Kernel
	unpack     *device.Kernel
}

// Compile loads the kernel subset for mode onto the device. Requesting
// device-side binning on the OpenCL family is a fatal configuration
// error: no fallback exists here and silently switching modes would
// violate caller expectations.
func (c *KernelCache) Compile(dev *device.Device, mode Mode) error {
	if c.compiled {
		return nil
	}
	if mode == ModeDeviceBuild && !dev.CanBuildOnDevice() {
		return fmt.Errorf("%w (device family %s)",
			ErrDeviceBinningUnsupported, dev.Family())
	}

	c.mode = mode
	c.program = device.NewProgram(dev, "neighbor_"+mode.String())
	c.program.Load(buildKernels(mode))

	var err error
	get := func(name string) *device.Kernel {
		if err != nil {
			return nil
		}
		var k *device.Kernel
		k, err = c.program.Kernel(name)
		return k
	}

	switch mode {
	case ModeHostBuild:
		c.unpack = get(kUnpack)
	case ModeDeviceBuild:
		c.cellID = get(kCalcCellID)
		c.cellCounts = get(kCalcCellCount)
		c.build = get(kBuildNbor)
		c.transpose = get(kTranspose)
		c.special = get(kSpecial)
	case ModeDeviceBuildHostBin:
		c.build = get(kBuildNbor)
		c.transpose = get(kTranspose)
		c.special = get(kSpecial)
	default:
		err = fmt.Errorf("%w: %v", ErrUnknownMode, mode)
	}
	if err != nil {
		c.program.Clear()
		c.program = nil
		return err
	}

	c.compiled = true
	c.compileTotal++
	dev.Log().Info("neighbor kernels compiled",
		zap.String("mode", mode.String()),
		zap.String("family", dev.Family().String()))
	return nil
}

// Compiled reports whether the cache holds a compiled program.
func (c *KernelCache) Compiled() bool { return c.compiled }

// Mode returns the mode the cache was compiled for.
func (c *KernelCache) Mode() Mode { return c.mode }

// CompileCount reports total compilations, for diagnostics and tests.
func (c *KernelCache) CompileCount() int64 { return c.compileTotal }

// Clear releases the compiled program and every kernel handle. Called
// once at shutdown of the owning device context, not per Store.
// Idempotent.
func (c *KernelCache) Clear() {
	if !c.compiled {
		return
	}
	c.program.Clear()
	c.cellID = nil
	c.cellCounts = nil
	c.build = nil
	c.transpose = nil
	c.special = nil
	c.unpack = nil
	c.compiled = false
}
