package padlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-padlock/v1/loop"
	"github.com/mirkobrombin/go-padlock/v1/metrics"
	"github.com/mirkobrombin/go-padlock/v1/notify"
)

const tracerName = "github.com/mirkobrombin/go-padlock/v1/padlock"

// MaxToken bounds token values; tokens cycle through [0, MaxToken).
const MaxToken = 65000

// DefaultName is used for locks created without WithName.
const DefaultName = "padlock"

// Event names emitted by a Lock.
const (
	EventLocked   = "locked"
	EventUnlocked = "unlocked"
	EventTimeout  = "timeout"
)

// Token identifies a lock holder.
type Token uint32

// Callback is the work run under the lock. recv is the receiver captured at
// request time, or the Lock when none was given.
type Callback func(recv any, args ...any)

// Guarded is a function whose every call runs under the lock.
type Guarded func(args ...any)

// Event describes a lock transition. Callback and Args are only set for
// timeout events.
type Event struct {
	Name     string
	Lock     string
	Token    Token
	Callback Callback
	Args     []any
	At       time.Time
}

type pending struct {
	callback  Callback
	args      []any
	receiver  any
	timeout   time.Duration
	immediate bool
	queuedAt  time.Time
}

// Lock is a cooperative FIFO lock for code running on a single loop.
type Lock struct {
	id             string
	name           string
	sched          loop.Scheduler
	events         *notify.Emitter[Event]
	logger         zerolog.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration

	locked bool
	token  Token
	queue  []*pending

	timer  loop.Timer
	span   trace.Span
	heldAt time.Time
}

// New returns an unlocked Lock that defers queue replay and timeouts to
// sched.
func New(sched loop.Scheduler, opts ...Option) *Lock {
	l := &Lock{
		id:     uuid.NewString(),
		name:   DefaultName,
		sched:  sched,
		events: notify.New[Event](),
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("lock", l.name).Logger()
	return l
}

// ID returns the unique identifier of this Lock instance.
func (l *Lock) ID() string { return l.id }

// Name returns the configured lock name.
func (l *Lock) Name() string { return l.name }

// Events exposes the emitter carrying locked, unlocked and timeout events.
func (l *Lock) Events() *notify.Emitter[Event] { return l.events }

// IsLocked reports whether the lock currently has a holder.
func (l *Lock) IsLocked() bool { return l.locked }

// Token returns the token of the current or most recent holder.
func (l *Lock) Token() Token { return l.token }

// Pending returns the number of queued requests.
func (l *Lock) Pending() int { return len(l.queue) }

// Acquire takes the lock if it is free and returns the new token. cb is not
// called in that case; the caller already holds the lock and must release it.
// If the lock is held, or waiters are still queued for replay, the request is
// queued, ok is false, and cb runs with args once the lock is granted to it.
func (l *Lock) Acquire(cb Callback, args []any, opts ...CallOption) (Token, bool) {
	return l.acquire(l.newPending(cb, args, false, opts))
}

// RunWithLock runs cb immediately if the lock can be taken, otherwise it
// queues cb exactly like Acquire. cb is responsible for releasing the lock
// from every completion path.
func (l *Lock) RunWithLock(cb Callback, args []any, opts ...CallOption) (Token, bool) {
	p := l.newPending(cb, args, true, opts)
	tok, ok := l.acquire(p)
	if ok {
		l.invoke(p)
	}
	return tok, ok
}

// Require wraps cb so that every call of the returned function goes through
// RunWithLock with the given options.
func (l *Lock) Require(cb Callback, opts ...CallOption) Guarded {
	captured := append([]CallOption(nil), opts...)
	return func(args ...any) {
		l.RunWithLock(cb, args, captured...)
	}
}

// Release frees the lock regardless of which token holds it. It reports
// false if the lock was not held.
func (l *Lock) Release() bool {
	return l.release(l.token, false)
}

// Unlock is an alias for Release.
func (l *Lock) Unlock() bool {
	return l.Release()
}

// ReleaseToken frees the lock only if tok identifies the current holder. A
// stale holder gets false and the lock is left untouched.
func (l *Lock) ReleaseToken(tok Token) bool {
	return l.release(tok, true)
}

func (l *Lock) newPending(cb Callback, args []any, immediate bool, opts []CallOption) *pending {
	p := &pending{
		callback:  cb,
		args:      args,
		timeout:   l.defaultTimeout,
		immediate: immediate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (l *Lock) acquire(p *pending) (Token, bool) {
	if l.locked || len(l.queue) > 0 {
		l.enqueue(p)
		return 0, false
	}
	metrics.AcquireCounter.WithLabelValues(l.name, "granted").Inc()
	return l.grant(p), true
}

func (l *Lock) enqueue(p *pending) {
	p.queuedAt = time.Now()
	l.queue = append(l.queue, p)
	metrics.AcquireCounter.WithLabelValues(l.name, "queued").Inc()
	metrics.QueueGauge.WithLabelValues(l.name).Set(float64(len(l.queue)))
	l.logger.Debug().
		Int("pending", len(l.queue)).
		Bool("immediate", p.immediate).
		Msg("lock busy, request queued")
}

func (l *Lock) grant(p *pending) Token {
	l.token = (l.token + 1) % MaxToken
	l.locked = true
	l.heldAt = time.Now()
	tok := l.token

	if p.timeout > 0 {
		l.timer = l.sched.AfterFunc(p.timeout, func() {
			l.expire(tok, p)
		})
	}

	_, l.span = l.tracer.Start(context.Background(), "padlock.hold", trace.WithAttributes(
		attribute.String("padlock.lock", l.name),
		attribute.Int64("padlock.token", int64(tok)),
		attribute.Bool("padlock.queued", !p.queuedAt.IsZero()),
	))
	if !p.queuedAt.IsZero() {
		l.span.SetAttributes(attribute.Int64("padlock.wait_ms", time.Since(p.queuedAt).Milliseconds()))
	}

	l.logger.Debug().Uint32("token", uint32(tok)).Msg("lock granted")
	l.emit(EventLocked, tok, nil, nil)
	return tok
}

func (l *Lock) invoke(p *pending) {
	recv := p.receiver
	if recv == nil {
		recv = l
	}
	p.callback(recv, p.args...)
}

func (l *Lock) release(tok Token, checked bool) bool {
	if !l.locked {
		metrics.ReleaseCounter.WithLabelValues(l.name, "rejected").Inc()
		l.logger.Debug().Uint32("token", uint32(tok)).Msg("release on idle lock ignored")
		return false
	}
	if checked && tok != l.token {
		metrics.ReleaseCounter.WithLabelValues(l.name, "rejected").Inc()
		l.logger.Warn().
			Uint32("token", uint32(tok)).
			Uint32("current", uint32(l.token)).
			Msg("stale release ignored")
		return false
	}

	l.locked = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.span != nil {
		l.span.End()
		l.span = nil
	}
	metrics.ReleaseCounter.WithLabelValues(l.name, "released").Inc()
	metrics.HoldHistogram.WithLabelValues(l.name).Observe(time.Since(l.heldAt).Seconds())
	l.logger.Debug().Uint32("token", uint32(l.token)).Msg("lock released")

	// replay never runs inline so chains of release and re-acquire stay shallow
	l.sched.NextTick(l.runBlocked)
	l.emit(EventUnlocked, l.token, nil, nil)
	return true
}

// runBlocked grants the lock to queued requests until one of them keeps it.
func (l *Lock) runBlocked() {
	for !l.locked && len(l.queue) > 0 {
		p := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		metrics.QueueGauge.WithLabelValues(l.name).Set(float64(len(l.queue)))

		l.grant(p)
		l.invoke(p)
	}
}

func (l *Lock) expire(tok Token, p *pending) {
	if !l.locked || l.token != tok {
		return
	}
	metrics.TimeoutCounter.WithLabelValues(l.name).Inc()
	l.logger.Warn().
		Uint32("token", uint32(tok)).
		Dur("timeout", p.timeout).
		Msg("lock holder timed out, forcing release")
	if l.span != nil {
		l.span.AddEvent("timeout")
		l.span.SetStatus(codes.Error, "holder timed out")
	}
	l.emit(EventTimeout, tok, p.callback, p.args)
	l.ReleaseToken(tok)
}

func (l *Lock) emit(name string, tok Token, cb Callback, args []any) {
	l.events.Emit(name, Event{
		Name:     name,
		Lock:     l.name,
		Token:    tok,
		Callback: cb,
		Args:     args,
		At:       time.Now(),
	})
}
