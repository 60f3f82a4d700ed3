package loop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
)

// Timer is a handle to work scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It reports false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Scheduler is the deferred execution surface consumed by code that runs on
// a loop.
type Scheduler interface {
	// NextTick runs fn after the current task completes.
	NextTick(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop executes submitted tasks sequentially on a dedicated goroutine.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	ticks  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
	once   sync.Once
	logger zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

var _ Scheduler = (*Loop)(nil)

// New starts a new Loop. Call Close to stop its goroutine.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Submit enqueues fn to run on the loop after all previously submitted
// tasks. It is safe to call from any goroutine.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return pderrors.ErrLoopClosed
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Do runs fn on the loop and waits for it to return or for ctx to end.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return pderrors.ErrLoopClosed
	}
}

// NextTick queues fn to run once the current task has returned, before any
// other submitted task. Ticks queued by a tick run in the same pass.
func (l *Loop) NextTick(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.ticks = append(l.ticks, fn)
	l.mu.Unlock()
	l.signal()
}

// AfterFunc posts fn to the loop after d. If the loop is closed by then, fn
// never runs.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		if err := l.Submit(fn); err != nil {
			l.logger.Debug().Err(err).Dur("delay", d).Msg("dropping timer on closed loop")
		}
	})
}

// Close stops the loop goroutine. Pending tasks are dropped. Close must not
// be called from the loop goroutine.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		dropped := len(l.tasks) + len(l.ticks)
		l.tasks = nil
		l.ticks = nil
		l.mu.Unlock()
		l.signal()
		<-l.done
		if dropped > 0 {
			l.logger.Debug().Int("dropped", dropped).Msg("loop closed with pending tasks")
		}
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.drainTicks()
		fn, ok, closed := l.next()
		if closed {
			return
		}
		if !ok {
			<-l.wake
			continue
		}
		fn()
	}
}

func (l *Loop) next() (func(), bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, true
	}
	if len(l.tasks) == 0 {
		return nil, false, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true, false
}

func (l *Loop) drainTicks() {
	for {
		l.mu.Lock()
		if l.closed || len(l.ticks) == 0 {
			l.mu.Unlock()
			return
		}
		ticks := l.ticks
		l.ticks = nil
		l.mu.Unlock()
		for _, fn := range ticks {
			fn()
		}
	}
}
