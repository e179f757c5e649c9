// Package nbor manages per-timestep neighbor lists on an accelerator
// device: which particles lie within an interaction cutoff of each
// particle, stored as a device matrix laid out for coalesced access.
//
// Two collaborating types:
//
//   - [Store]: per-domain-partition owner of every device and host
//     buffer describing the neighbor relation. Grows storage on demand
//     with 10% headroom, ingests host-built lists, or builds lists on
//     the device with cell binning.
//   - [KernelCache]: per-device compilation cache for the small fixed
//     kernel set. Compiled once, shared by reference across every Store
//     on the same device, torn down last.
//
// # Neighbor matrix layout
//
// Column-major by atom with pitch MaxAtoms: row 0 holds the atom index,
// row 1 the neighbor count, row 2 the run offset into packed storage,
// and the remaining rows the neighbor indices. Excluded bonded partners
// are marked in place with the top bits ([SpecialType]) rather than
// removed, so column positions stay stable for the force kernels.
//
// # Recovery contract
//
// Allocation failure reports ok=false and the caller decides. A build
// that finds more neighbors than fit reports the true maximum; the
// caller resizes and rebuilds. Nothing retries internally.
package nbor
