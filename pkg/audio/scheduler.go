package audio

import (
	"sync"
	"time"
)

// Clock provides the playback timeline for a [Scheduler]. Now returns the
// elapsed time since the clock started. Tests supply a fake clock; production
// code uses the monotonic wall clock.
type Clock interface {
	Now() time.Duration
}

// monotonicClock measures elapsed time since construction.
type monotonicClock struct {
	start time.Time
}

func (c *monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// SchedulerOption is a functional option for configuring a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithClock overrides the playback clock. Primarily used in tests.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// scheduledChunk is a queued PCM chunk with its assigned start slot.
type scheduledChunk struct {
	data  []byte
	start time.Duration
}

// Scheduler assigns gapless start slots to model audio chunks and serves them
// to a playback device.
//
// Each chunk is scheduled at max(clock now, next free slot); the next free
// slot then advances by the chunk's duration. Chunks that arrive while audio
// is still playing queue back-to-back with no gap or overlap; chunks that
// arrive after the queue has drained start immediately.
//
// All methods are safe for concurrent use: Schedule and Flush are called from
// the session goroutines while ReadPCM is called from the device callback.
type Scheduler struct {
	mu         sync.Mutex
	clock      Clock
	sampleRate int
	next       time.Duration
	queue      []scheduledChunk
	offset     int // consumed bytes of queue[0]
}

// NewScheduler creates a Scheduler for mono int16 PCM at the given sample rate.
func NewScheduler(sampleRate int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:      &monotonicClock{start: time.Now()},
		sampleRate: sampleRate,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule enqueues a PCM chunk and returns its assigned start slot on the
// playback timeline. Empty chunks are ignored and return the current next
// free slot.
func (s *Scheduler) Schedule(chunk []byte) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chunk) == 0 {
		return s.next
	}

	start := s.clock.Now()
	if s.next > start {
		start = s.next
	}
	s.next = start + DurationOfPCM16(chunk, s.sampleRate)

	data := make([]byte, len(chunk))
	copy(data, chunk)
	s.queue = append(s.queue, scheduledChunk{data: data, start: start})
	return start
}

// Flush drops all queued audio and resets the next free slot, so the next
// scheduled chunk starts immediately. Called on barge-in and teardown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.offset = 0
	s.next = 0
}

// Buffered returns the total duration of audio still queued for playback.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for i, c := range s.queue {
		data := c.data
		if i == 0 {
			data = data[s.offset:]
		}
		total += DurationOfPCM16(data, s.sampleRate)
	}
	return total
}

// ReadPCM fills buf with the next slice of scheduled audio, zero-filling when
// the queue is dry. Queued chunks stream back-to-back in slot order; the
// device consumes in real time, so slot starts line up with wall-clock
// playback. It is the pull side consumed by the playback device callback.
func (s *Scheduler) ReadPCM(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := 0
	for pos < len(buf) {
		if len(s.queue) == 0 {
			break
		}
		head := s.queue[0]
		n := copy(buf[pos:], head.data[s.offset:])
		pos += n
		s.offset += n
		if s.offset >= len(head.data) {
			s.queue = s.queue[1:]
			s.offset = 0
		}
	}
	for i := pos; i < len(buf); i++ {
		buf[i] = 0
	}
}
