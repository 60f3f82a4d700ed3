package padlock

import (
	"time"

	"github.com/mirkobrombin/go-padlock/v1/loop"
)

// manualScheduler runs deferred work only when the test asks for it.
type manualScheduler struct {
	ticks  []func()
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) NextTick(fn func()) {
	s.ticks = append(s.ticks, fn)
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	t := &manualTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// step runs the oldest queued tick and reports whether there was one.
func (s *manualScheduler) step() bool {
	if len(s.ticks) == 0 {
		return false
	}
	fn := s.ticks[0]
	s.ticks = s.ticks[1:]
	fn()
	return true
}

func (s *manualScheduler) flush() {
	for s.step() {
	}
}

// fire runs timer i even if it was stopped, mimicking a timer that raced
// with its Stop call.
func (s *manualScheduler) fire(i int) {
	t := s.timers[i]
	t.fired = true
	t.fn()
}
