package device

import "time"

// Timer accumulates elapsed time for spans recorded on a stream. Start
// and Stop are themselves stream commands, so the measured span covers
// exactly the commands enqueued between them. Reading the total is only
// meaningful after the stream has been finished past the Stop.
type Timer struct {
	start time.Time
	total time.Duration
}

// Start records the span opening on the stream.
func (t *Timer) Start(s *Stream) {
	s.Enqueue(func() { t.start = time.Now() })
}

// Stop records the span closing on the stream and accumulates.
func (t *Timer) Stop(s *Stream) {
	s.Enqueue(func() { t.total += time.Since(t.start) })
}

// Seconds returns the accumulated span time.
func (t *Timer) Seconds() float64 { return t.total.Seconds() }

// Zero resets the accumulated time.
func (t *Timer) Zero() { t.total = 0 }
