package main

import "time"

// TimerID is a handle for a pending continuation. Zero is never issued.
type TimerID uint64

type timer struct {
	id  TimerID
	due time.Duration
	fn  func()
}

// Scheduler runs delayed continuations on simulated time. It is advanced by
// the game tick and is not safe for concurrent use; the owning Game's mutex
// guards it.
type Scheduler struct {
	now    time.Duration
	nextID TimerID
	timers []*timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the simulated time elapsed since creation
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// After schedules fn to run once d has elapsed
func (s *Scheduler) After(d time.Duration, fn func()) TimerID {
	if d < 0 {
		d = 0
	}
	s.nextID++
	s.timers = append(s.timers, &timer{id: s.nextID, due: s.now + d, fn: fn})
	return s.nextID
}

// Cancel removes a pending timer. Returns false if it already ran or never existed.
func (s *Scheduler) Cancel(id TimerID) bool {
	for i, t := range s.timers {
		if t.id == id {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Pending reports whether id is still waiting to run
func (s *Scheduler) Pending(id TimerID) bool {
	for _, t := range s.timers {
		if t.id == id {
			return true
		}
	}
	return false
}

// Len returns the number of pending timers
func (s *Scheduler) Len() int {
	return len(s.timers)
}

// Advance moves time forward by dt and runs every due callback in due order,
// ties broken by scheduling order. Callbacks may schedule or cancel timers.
func (s *Scheduler) Advance(dt time.Duration) {
	s.now += dt
	for {
		idx := -1
		for i, t := range s.timers {
			if t.due > s.now {
				continue
			}
			if idx < 0 || t.due < s.timers[idx].due || (t.due == s.timers[idx].due && t.id < s.timers[idx].id) {
				idx = i
			}
		}
		if idx < 0 {
			return
		}
		t := s.timers[idx]
		s.timers = append(s.timers[:idx], s.timers[idx+1:]...)
		t.fn()
	}
}
