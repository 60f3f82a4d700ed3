package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-padlock/v1/loop"
	"github.com/mirkobrombin/go-padlock/v1/metrics"
	"github.com/mirkobrombin/go-padlock/v1/mirror"
	"github.com/mirkobrombin/go-padlock/v1/padlock"
)

var errOrdering = errors.New("ordering violated")

// scenarioTiming sets how long the asynchronous holders take.
type scenarioTiming struct {
	Delay       time.Duration
	HoldTimeout time.Duration
}

// scenarioResult holds the lists recorded by runScenarios once the final
// holder got the lock.
type scenarioResult struct {
	Unguarded []string
	Ordered   []string
	Required  []string
	TimedOut  int
}

var wantOrder = []string{"start", "middle", "end"}

func (r scenarioResult) verify() error {
	if len(r.Unguarded) < 2 || r.Unguarded[0] != "start" || r.Unguarded[1] != "end" {
		return fmt.Errorf("%w: unguarded list %v", errOrdering, r.Unguarded)
	}
	if !slices.Equal(r.Ordered, wantOrder) {
		return fmt.Errorf("%w: runWithLock list %v", errOrdering, r.Ordered)
	}
	if !slices.Equal(r.Required, wantOrder) {
		return fmt.Errorf("%w: require list %v", errOrdering, r.Required)
	}
	if r.TimedOut != 1 {
		return fmt.Errorf("%w: expected 1 timeout, got %d", errOrdering, r.TimedOut)
	}

	return nil
}

// runScenarios queues three lists of work on l from a single loop task:
// one without the lock, one through RunWithLock and one through a Require
// wrapper mixed with a delayed Acquire. A holder that never releases is
// queued behind them, followed by a final holder that snapshots the lists.
func runScenarios(ctx context.Context, lp *loop.Loop, l *padlock.Lock, timing scenarioTiming) (scenarioResult, error) {
	done := make(chan scenarioResult, 1)

	err := lp.Do(ctx, func() {
		var list1, list2, list3 []string
		timedOut := 0

		timeoutID := l.Events().On(padlock.EventTimeout, func(padlock.Event) {
			timedOut++
		})

		// unguarded: the delayed push lands after "end"
		list1 = append(list1, "start")
		lp.AfterFunc(timing.Delay, func() {
			list1 = append(list1, "bad - middle")
		})
		list1 = append(list1, "end")

		push2 := func(_ any, args ...any) {
			list2 = append(list2, args[0].(string))
			l.Release()
		}
		l.RunWithLock(push2, []any{"start"})
		l.RunWithLock(func(_ any, _ ...any) {
			lp.AfterFunc(timing.Delay, func() {
				list2 = append(list2, "middle")
				l.Release()
			})
		}, nil)
		l.RunWithLock(push2, []any{"end"})

		push3 := l.Require(func(_ any, args ...any) {
			list3 = append(list3, args[0].(string))
			l.Release()
		})
		eventually3 := func(x string) {
			l.Acquire(func(_ any, _ ...any) {
				lp.AfterFunc(timing.Delay+timing.Delay/2, func() {
					list3 = append(list3, x)
					l.Release()
				})
			}, nil)
		}
		push3("start")
		eventually3("middle")
		push3("end")

		l.RunWithLock(func(_ any, _ ...any) {}, nil, padlock.WithTimeout(timing.HoldTimeout))

		l.RunWithLock(func(_ any, _ ...any) {
			l.Events().Off(padlock.EventTimeout, timeoutID)
			done <- scenarioResult{
				Unguarded: slices.Clone(list1),
				Ordered:   slices.Clone(list2),
				Required:  slices.Clone(list3),
				TimedOut:  timedOut,
			}
			l.Release()
		}, nil)
	})
	if err != nil {
		return scenarioResult{}, err
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return scenarioResult{}, ctx.Err()
	}
}

func scenarioCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:   "scenario",
		Usage:  "run the ordering, require and timeout scenarios on one lock",
		Action: scenarioAction(st),
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "How long the asynchronous holders wait before releasing",
				Value: 200 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "hold-timeout",
				Usage: "Timeout of the holder that never releases",
				Value: 3 * time.Second,
			},
		},
	}
}

func scenarioAction(st *state) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "scenario").Logger()
		ctx = logger.WithContext(ctx)

		bus, closeBus, err := openBus(ctx, st.cfg.Bus)
		if err != nil {
			return err
		}
		defer closeBus()

		reg := metrics.NewRegistry()
		metrics.RegisterLockMetrics(reg)

		lp := loop.New(loop.WithLogger(logger))
		defer lp.Close()

		l := padlock.New(lp,
			padlock.WithName(st.cfg.Lock.Name),
			padlock.WithLogger(logger),
			padlock.WithTracerProvider(st.telemetry.Provider),
			padlock.WithDefaultTimeout(st.cfg.Lock.DefaultTimeout()),
		)

		m := mirror.New(bus, mirror.WithLogger(logger))
		detach := m.Attach(l)
		defer func() {
			detach()
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := m.Close(closeCtx); err != nil {
				logger.Error().Err(err).Msg("error flushing mirrored events")
			}
		}()

		g, gctx := errgroup.WithContext(ctx)

		var server *http.Server
		if addr := st.cfg.Metrics.Addr; addr != "" {
			server = newServer(gctx, addr, reg, bus)

			g.Go(func() error {
				logger.Info().Str("metrics-addr", addr).Msg("server started")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("error starting the HTTP listener: %w", err)
				}

				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
				defer cancel()

				return server.Shutdown(shutdownCtx)
			})
		}

		g.Go(func() error {
			timing := scenarioTiming{
				Delay:       cmd.Duration("delay"),
				HoldTimeout: cmd.Duration("hold-timeout"),
			}
			res, err := runScenarios(gctx, lp, l, timing)
			if err != nil {
				return err
			}
			printResult(writer(cmd), res)
			if err := res.verify(); err != nil {
				return err
			}
			logger.Info().Uint32("token", uint32(l.Token())).Msg("scenarios passed")
			if server != nil {
				logger.Info().Msg("serving until interrupted")
			}

			return nil
		})

		return g.Wait()
	}
}

func printResult(w io.Writer, res scenarioResult) {
	fmt.Fprintf(w, "unguarded: %s\n", strings.Join(res.Unguarded, ", "))
	fmt.Fprintf(w, "ordered:   %s\n", strings.Join(res.Ordered, ", "))
	fmt.Fprintf(w, "required:  %s\n", strings.Join(res.Required, ", "))
	fmt.Fprintf(w, "timeouts:  %d\n", res.TimedOut)
}
