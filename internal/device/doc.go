// Package device provides a simulated accelerator offload layer.
//
// The package models the pieces of a GPU runtime that neighbor-list
// management depends on:
//
//   - [Device]: one accelerator with a backend family, a memory budget
//     and an in-order command stream
//   - [IntVec] / [FloatVec]: typed device buffers with byte accounting
//   - [Program] / [Kernel]: compiled kernel handles, one compile per load
//   - [Stream]: asynchronous in-order execution of launches and copies
//   - [Timer]: elapsed-time spans recorded on the stream
//
// Kernels run on the host, chunked across a worker pool, but the
// execution model is the offload one: work is enqueued asynchronously
// and the host only blocks on [Stream.Finish] or when a result is
// needed.
//
// # Thread Safety
//
// A Device and its Stream are driven from a single logical thread of
// control. Concurrent launches from independent callers that share
// compiled programs are safe; concurrent allocation is serialized
// internally.
package device
