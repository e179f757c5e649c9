package device

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Family identifies the backend family a device belongs to. Capabilities
// differ per family: the OpenCL family cannot run device-side binning.
type Family int

const (
	FamilyCUDA Family = iota
	FamilyOpenCL
)

func (f Family) String() string {
	switch f {
	case FamilyCUDA:
		return "cuda"
	case FamilyOpenCL:
		return "opencl"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Config selects the device backend and resource limits.
type Config struct {
	Family Family
	// MemLimit is the device memory budget in bytes. Zero means unlimited.
	MemLimit int64
	// Workers is the number of host workers emulating device lanes.
	// Zero means runtime.NumCPU().
	Workers int
}

// Device is one simulated accelerator: a backend family, a memory budget
// and a single in-order command stream.
type Device struct {
	cfg    Config
	stream *Stream
	log    *zap.Logger

	mu        sync.Mutex
	allocated int64
}

// New creates a device. A nil logger disables diagnostics.
func New(cfg Config, log *zap.Logger) *Device {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Device{cfg: cfg, log: log}
	d.stream = newStream(cfg.Workers)
	log.Debug("device created",
		zap.String("family", cfg.Family.String()),
		zap.Int64("mem_limit", cfg.MemLimit),
		zap.Int("workers", cfg.Workers))
	return d
}

func (d *Device) Family() Family { return d.cfg.Family }

func (d *Device) Stream() *Stream { return d.stream }

func (d *Device) Log() *zap.Logger { return d.log }

func (d *Device) Workers() int { return d.cfg.Workers }

// CanBuildOnDevice reports whether the backend family supports
// device-side binning kernels.
func (d *Device) CanBuildOnDevice() bool { return d.cfg.Family != FamilyOpenCL }

// Allocated returns the current device byte count.
func (d *Device) Allocated() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Close drains the command stream. The device must not be used after.
func (d *Device) Close() {
	d.stream.close()
}

func (d *Device) reserve(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.MemLimit > 0 && d.allocated+n > d.cfg.MemLimit {
		d.log.Warn("device allocation failed",
			zap.Int64("requested", n),
			zap.Int64("allocated", d.allocated),
			zap.Int64("limit", d.cfg.MemLimit))
		return fmt.Errorf("%w: requested %d, %d of %d in use",
			ErrOutOfMemory, n, d.allocated, d.cfg.MemLimit)
	}
	d.allocated += n
	return nil
}

func (d *Device) release(n int64) {
	d.mu.Lock()
	d.allocated -= n
	d.mu.Unlock()
}
