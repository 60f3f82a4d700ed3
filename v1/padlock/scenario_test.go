package padlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mirkobrombin/go-padlock/v1/loop"
)

func onLoop(t *testing.T, lp *loop.Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, lp.Do(ctx, fn))
}

func TestDelayedHolderKeepsOrder(t *testing.T) {
	lp := loop.New()
	defer lp.Close()
	l := New(lp, WithName(t.Name()))

	var list []string
	done := make(chan struct{})
	push := func(_ any, args ...any) {
		list = append(list, args[0].(string))
		l.Release()
	}

	onLoop(t, lp, func() {
		l.RunWithLock(push, []any{"start"})
		l.RunWithLock(func(_ any, _ ...any) {
			lp.AfterFunc(30*time.Millisecond, func() {
				list = append(list, "middle")
				l.Release()
			})
		}, nil)
		l.RunWithLock(push, []any{"end"})
		l.RunWithLock(func(_ any, _ ...any) {
			close(done)
			l.Release()
		}, nil)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	onLoop(t, lp, func() {
		assert.Equal(t, []string{"start", "middle", "end"}, list)
		assert.False(t, l.IsLocked())
		assert.Zero(t, l.Pending())
	})
}

func TestRequireWithDelayedAcquire(t *testing.T) {
	lp := loop.New()
	defer lp.Close()
	l := New(lp, WithName(t.Name()))

	var list []string
	done := make(chan struct{})
	update := l.Require(func(_ any, args ...any) {
		list = append(list, args[0].(string))
		l.Release()
	})
	eventually := func(x string) {
		// queued behind the holder, so the callback itself arms the timer
		l.Acquire(func(_ any, _ ...any) {
			lp.AfterFunc(20*time.Millisecond, func() {
				list = append(list, x)
				l.Release()
			})
		}, nil)
	}

	onLoop(t, lp, func() {
		l.Acquire(nil, nil)
		update("start")
		eventually("middle")
		update("end")
		l.RunWithLock(func(_ any, _ ...any) {
			close(done)
			l.Release()
		}, nil)
		l.Release()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	onLoop(t, lp, func() {
		assert.Equal(t, []string{"start", "middle", "end"}, list)
	})
}

func TestTimeoutReleasesStalledHolder(t *testing.T) {
	lp := loop.New()
	defer lp.Close()
	l := New(lp, WithName(t.Name()))

	timedOut := make(chan Event, 1)
	finished := make(chan time.Duration, 1)
	var start time.Time

	onLoop(t, lp, func() {
		l.Events().On(EventTimeout, func(ev Event) { timedOut <- ev })
		start = time.Now()
		l.RunWithLock(func(_ any, _ ...any) {}, []any{"stalled"}, WithTimeout(100*time.Millisecond))
		l.RunWithLock(func(_ any, _ ...any) {
			finished <- time.Since(start)
			l.Release()
		}, nil)
	})

	select {
	case ev := <-timedOut:
		assert.Equal(t, Token(1), ev.Token)
		assert.Equal(t, []any{"stalled"}, ev.Args)
	case <-time.After(time.Second):
		t.Fatal("timeout event not emitted")
	}
	select {
	case d := <-finished:
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("queue stalled after timeout")
	}
}

func TestHoldSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	l, s := newTestLock(t, WithTracerProvider(tp))
	tok, _ := l.Acquire(nil, nil)
	l.RunWithLock(func(_ any, _ ...any) {}, nil, WithTimeout(time.Millisecond))
	l.ReleaseToken(tok)
	s.flush()
	s.fire(0)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "padlock.hold", spans[0].Name())
	assert.Empty(t, spans[0].Events())

	timedOut := spans[1]
	require.Len(t, timedOut.Events(), 1)
	assert.Equal(t, "timeout", timedOut.Events()[0].Name)
	var queued bool
	for _, kv := range timedOut.Attributes() {
		if kv.Key == "padlock.queued" {
			queued = kv.Value.AsBool()
		}
	}
	assert.True(t, queued)
}
