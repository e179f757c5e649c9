package device

import "sync"

// Stream is an in-order asynchronous command queue. Commands execute on
// a dedicated goroutine in submission order; kernel launches fan their
// global range out across the device worker pool but the launch itself
// completes before the next command starts.
type Stream struct {
	cmds    chan func()
	drained chan struct{}
	workers int
	closeMu sync.Once
}

const streamDepth = 256

func newStream(workers int) *Stream {
	s := &Stream{
		cmds:    make(chan func(), streamDepth),
		drained: make(chan struct{}),
		workers: workers,
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	for cmd := range s.cmds {
		cmd()
	}
	close(s.drained)
}

func (s *Stream) enqueue(cmd func()) {
	s.cmds <- cmd
}

// Finish blocks until every command submitted so far has executed.
func (s *Stream) Finish() {
	done := make(chan struct{})
	s.cmds <- func() { close(done) }
	<-done
}

func (s *Stream) close() {
	s.closeMu.Do(func() { close(s.cmds) })
	<-s.drained
}

// Launch enqueues a kernel over global work items. The block size shapes
// the chunking the way a work-group size would; it must be positive.
// Argument slices are read and written in place, so the caller must not
// touch them again before a Finish.
func (s *Stream) Launch(k *Kernel, global, block int, args ...any) {
	if global <= 0 {
		return
	}
	if block <= 0 {
		block = 64
	}
	workers := s.workers
	s.enqueue(func() {
		// One goroutine per contiguous span of work-groups.
		groups := (global + block - 1) / block
		if groups < workers {
			workers = groups
		}
		var wg sync.WaitGroup
		perWorker := (groups + workers - 1) / workers
		for w := 0; w < workers; w++ {
			lo := w * perWorker * block
			if lo >= global {
				break
			}
			hi := lo + perWorker*block
			if hi > global {
				hi = global
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for gid := lo; gid < hi; gid++ {
					k.fn(gid, args)
				}
			}(lo, hi)
		}
		wg.Wait()
	})
}

// LaunchSerial enqueues a kernel whose work items must run in order
// (scan-style kernels).
func (s *Stream) LaunchSerial(k *Kernel, global int, args ...any) {
	if global <= 0 {
		return
	}
	s.enqueue(func() {
		for gid := 0; gid < global; gid++ {
			k.fn(gid, args)
		}
	})
}

// Enqueue submits an arbitrary host-visible command (transfers use this).
func (s *Stream) Enqueue(cmd func()) { s.enqueue(cmd) }
