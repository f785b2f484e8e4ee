// Package sched provides the per-room timer owner: a small state machine
// (Idle → Counting → Running → Stopped) wrapping countdown and fixed-rate
// tick timers, guaranteeing cancellation on teardown.
package sched

import (
	"sync"
	"time"
)

// State is the scheduler lifecycle state.
type State int

const (
	Idle State = iota
	Counting
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Counting:
		return "counting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Scheduler owns the timers of one room. A stopped scheduler never fires
// again; all transitions are goroutine-safe. Stop is safe to call from
// inside a tick callback.
type Scheduler struct {
	mu              sync.Mutex
	state           State
	done            chan struct{} // closed on Stop, shared by all loops
	countdownCancel chan struct{}
}

// New returns an idle scheduler.
func New() *Scheduler {
	return &Scheduler{done: make(chan struct{})}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartCountdown runs onTick once per second with the remaining count and
// onDone when the countdown elapses. Allowed from Idle only.
func (s *Scheduler) StartCountdown(seconds int, onTick func(remaining int), onDone func()) bool {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return false
	}
	s.state = Counting
	cancel := make(chan struct{})
	s.countdownCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		remaining := seconds
		if onTick != nil {
			onTick(remaining)
		}
		for {
			select {
			case <-ticker.C:
				remaining--
				if remaining <= 0 {
					s.mu.Lock()
					if s.state == Counting {
						s.state = Idle
						s.countdownCancel = nil
					}
					s.mu.Unlock()
					if onDone != nil {
						onDone()
					}
					return
				}
				if onTick != nil {
					onTick(remaining)
				}
			case <-cancel:
				return
			case <-s.done:
				return
			}
		}
	}()
	return true
}

// CancelCountdown aborts a pending countdown without firing its completion
// callback and returns the scheduler to Idle so a tick loop can start.
func (s *Scheduler) CancelCountdown() {
	s.mu.Lock()
	if s.state == Counting {
		s.state = Idle
		if s.countdownCancel != nil {
			close(s.countdownCancel)
			s.countdownCancel = nil
		}
	}
	s.mu.Unlock()
}

// StartTicker begins a fixed-rate loop calling tick with the elapsed time
// since the previous invocation. Allowed from Idle or Counting (a pending
// countdown is cancelled first). Returns false once stopped or already
// running.
func (s *Scheduler) StartTicker(interval time.Duration, tick func(dt float64)) bool {
	s.CancelCountdown()

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return false
	}
	s.state = Running
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				dt := now.Sub(last).Seconds()
				last = now
				tick(dt)
			case <-s.done:
				return
			}
		}
	}()
	return true
}

// Stop terminates every timer permanently. The scheduler cannot be reused
// afterwards; rooms create a fresh one on reset.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	close(s.done)
}

// IsStopped reports whether Stop has been called.
func (s *Scheduler) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Stopped
}
