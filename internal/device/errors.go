package device

import "errors"

// Domain errors for device operations.
var (
	// ErrOutOfMemory indicates an allocation exceeded the device memory budget.
	ErrOutOfMemory = errors.New("device: out of device memory")

	// ErrUnknownKernel indicates a kernel name not present in the program.
	ErrUnknownKernel = errors.New("device: unknown kernel")

	// ErrNotCompiled indicates a kernel lookup on a program that was never loaded.
	ErrNotCompiled = errors.New("device: program not compiled")
)
