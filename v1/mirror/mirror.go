package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
	"github.com/mirkobrombin/go-padlock/v1/metrics"
	"github.com/mirkobrombin/go-padlock/v1/notify"
	"github.com/mirkobrombin/go-padlock/v1/padlock"
	"github.com/mirkobrombin/go-padlock/v1/syncbus"
)

// DefaultBuffer is the publish buffer used when WithBuffer is not given.
const DefaultBuffer = 256

// Message is the wire form of a lock transition.
type Message struct {
	Lock   string    `json:"lock"`
	Origin string    `json:"origin"`
	Event  string    `json:"event"`
	Token  uint32    `json:"token"`
	Args   int       `json:"args"`
	At     time.Time `json:"at"`
}

// Key returns the bus key carrying events of the named lock.
func Key(lockName string) string {
	return "padlock:" + lockName
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger used for publish failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mirror) {
		m.logger = logger
	}
}

// WithBuffer sets the number of messages held while waiting to be published.
func WithBuffer(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.buffer = n
		}
	}
}

type envelope struct {
	key string
	msg Message
}

// Mirror forwards lock events to a bus from a single publisher goroutine.
type Mirror struct {
	bus    syncbus.Bus
	logger zerolog.Logger
	buffer int

	mu     sync.Mutex
	closed bool
	queue  chan envelope

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	dropped atomic.Uint64
	once    sync.Once
}

// New starts a Mirror publishing to bus.
func New(bus syncbus.Bus, opts ...Option) *Mirror {
	m := &Mirror{
		bus:    bus,
		logger: zerolog.Nop(),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queue = make(chan envelope, m.buffer)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.group = new(errgroup.Group)
	m.group.Go(m.publish)
	return m
}

// Attach registers handlers on l and returns a function removing them.
func (m *Mirror) Attach(l *padlock.Lock) (detach func()) {
	events := l.Events()
	names := []string{padlock.EventLocked, padlock.EventUnlocked, padlock.EventTimeout}
	ids := make([]notify.ID, len(names))
	for i, name := range names {
		ids[i] = events.On(name, func(ev padlock.Event) {
			m.enqueue(l.ID(), ev)
		})
	}
	return func() {
		for i, name := range names {
			events.Off(name, ids[i])
		}
	}
}

// Dropped returns the number of events discarded because the buffer was full
// or the Mirror was closed.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Close stops accepting events and waits until buffered messages have been
// published or ctx ends.
func (m *Mirror) Close(ctx context.Context) error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})
	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()
	select {
	case err := <-done:
		m.cancel()
		return err
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Mirror) enqueue(origin string, ev padlock.Event) {
	env := envelope{
		key: Key(ev.Lock),
		msg: Message{
			Lock:   ev.Lock,
			Origin: origin,
			Event:  ev.Name,
			Token:  uint32(ev.Token),
			Args:   len(ev.Args),
			At:     ev.At,
		},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.drop(ev.Lock)
		return
	}
	select {
	case m.queue <- env:
	default:
		m.drop(ev.Lock)
	}
}

func (m *Mirror) drop(lock string) {
	m.dropped.Add(1)
	metrics.MirrorDropped.WithLabelValues(lock).Inc()
}

func (m *Mirror) publish() error {
	for env := range m.queue {
		data, err := json.Marshal(env.msg)
		if err != nil {
			m.logger.Error().Err(err).Str("key", env.key).Msg("encode lock event")
			continue
		}
		if err := m.bus.Publish(m.ctx, env.key, data); err != nil {
			if m.ctx.Err() != nil {
				return nil
			}
			m.logger.Error().Err(err).Str("key", env.key).Str("event", env.msg.Event).Msg("publish lock event")
		}
	}
	return nil
}

// Watch subscribes to the events of lockName on bus and decodes them. The
// returned channel is closed when ctx ends.
func Watch(ctx context.Context, bus syncbus.Bus, lockName string) (<-chan Message, error) {
	if lockName == "" {
		return nil, pderrors.ErrMissingKey
	}
	key := Key(lockName)
	ch, err := bus.Subscribe(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = bus.Unsubscribe(context.Background(), key, ch) }()
		for {
			select {
			case data, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
