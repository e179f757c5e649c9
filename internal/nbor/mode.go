package nbor

import "fmt"

// Mode selects where neighboring happens.
type Mode int

const (
	// ModeHostBuild ingests lists built by the host neighbor code.
	ModeHostBuild Mode = iota
	// ModeDeviceBuild bins and searches entirely on the device.
	ModeDeviceBuild
	// ModeDeviceBuildHostBin searches on the device with binning
	// supplied by the host.
	ModeDeviceBuildHostBin
)

func (m Mode) String() string {
	switch m {
	case ModeHostBuild:
		return "host"
	case ModeDeviceBuild:
		return "device"
	case ModeDeviceBuildHostBin:
		return "hostbin"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps the configuration surface names onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "host":
		return ModeHostBuild, nil
	case "device":
		return ModeDeviceBuild, nil
	case "hostbin":
		return ModeDeviceBuildHostBin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// HostForce states whether a device-built list must be mirrored back to
// the host for force computation there.
type HostForce int

const (
	HostForceNone HostForce = iota
	HostForceHalf
	HostForceFull
)

func (h HostForce) String() string {
	switch h {
	case HostForceNone:
		return "none"
	case HostForceHalf:
		return "half"
	case HostForceFull:
		return "full"
	default:
		return fmt.Sprintf("hostforce(%d)", int(h))
	}
}

// ParseHostForce maps the configuration surface names onto a HostForce.
func ParseHostForce(s string) (HostForce, error) {
	switch s {
	case "none", "":
		return HostForceNone, nil
	case "half":
		return HostForceHalf, nil
	case "full":
		return HostForceFull, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// IJSize is the element count of one host staging half used while
// ingesting host-built lists.
const IJSize = 131072

// Special-neighbor marks occupy the top two bits of a stored neighbor
// index: 0 unmarked, 1..3 the bond distance class.
const (
	specialShift = 30
	neighMask    = (1 << specialShift) - 1
)

// NeighIndex strips the special mark from a stored neighbor entry.
func NeighIndex(n int32) int32 { return int32(uint32(n) & neighMask) }

// SpecialType extracts the special mark from a stored neighbor entry.
func SpecialType(n int32) int32 { return int32(uint32(n) >> specialShift) }

func markSpecial(n int32, which int32) int32 {
	return int32(uint32(n)&neighMask | uint32(which)<<specialShift)
}

// TuneParams carries the launch block sizes, chosen per device family by
// the caller.
type TuneParams struct {
	BlockCell2D    int
	BlockCellID    int
	BlockNborBuild int
}

// DefaultTuneParams returns block sizes that behave well on both
// families.
func DefaultTuneParams() TuneParams {
	return TuneParams{BlockCell2D: 8, BlockCellID: 128, BlockNborBuild: 64}
}
