package audio

import (
	"sync"
	"time"
)

// DefaultLookahead bounds how far ahead of the wall clock the playback
// pointer may run before it is snapped back. This caps latency buildup when
// synthesized audio arrives faster than real time.
const DefaultLookahead = 200 * time.Millisecond

// SchedulerOption configures a [Scheduler] during construction.
type SchedulerOption func(*Scheduler)

// WithLookahead overrides the lookahead bound. Values <= 0 are ignored.
func WithLookahead(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookahead = d
		}
	}
}

// WithClock replaces the wall clock, letting tests drive time explicitly.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler owns one audio sink's playback timeline. Each sink — the
// caller's own ear, or one supervisory listener — gets its own instance.
//
// The scheduler tracks a single monotonically advancing "next play time".
// Reserving a frame returns the instant it should start playing and advances
// the pointer by the frame's duration. If the pointer has fallen behind the
// clock (underrun) or run more than the lookahead bound ahead of it, it is
// snapped to "now" before the reservation.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	next      time.Time
	lookahead time.Duration
	now       func() time.Time
}

// NewScheduler creates a Scheduler with [DefaultLookahead] and the system clock.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		lookahead: DefaultLookahead,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reserve allocates a playback slot of duration d and returns its start time.
func (s *Scheduler) Reserve(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.next.Before(now) || s.next.Sub(now) > s.lookahead {
		s.next = now
	}
	start := s.next
	s.next = start.Add(d)
	return start
}

// Pending reports how much reserved audio has not yet finished playing.
// Zero means the sink is flushed.
func (s *Scheduler) Pending() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.next.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Flushed reports whether all reserved audio has finished playing.
func (s *Scheduler) Flushed() bool {
	return s.Pending() == 0
}

// Reset discards the timeline. The next reservation starts at "now".
// Called when scheduled-but-unplayed audio is cancelled (session expiry).
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = time.Time{}
}
