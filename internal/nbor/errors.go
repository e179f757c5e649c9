package nbor

import "errors"

// Domain errors for neighbor-list management.
var (
	// ErrDeviceBinningUnsupported indicates device-side binning was
	// requested on a backend family that cannot run it. This is a fatal
	// configuration error; there is no in-core fallback.
	ErrDeviceBinningUnsupported = errors.New(
		"nbor: device neighboring is not supported on the opencl backend family")

	// ErrUnknownMode indicates an unrecognized neighboring or host-force
	// mode name.
	ErrUnknownMode = errors.New("nbor: unknown mode")

	// ErrCapacity indicates an ingest into storage smaller than the list
	// being ingested. Callers must resize first; this is a programming
	// error, not a runtime condition to recover from.
	ErrCapacity = errors.New("nbor: neighbor storage too small for host list")
)
