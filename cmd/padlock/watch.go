package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/mirkobrombin/go-padlock/v1/mirror"
)

func watchCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "print the events mirrored for a lock until interrupted",
		Action: watchAction(st),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "lock",
				Usage: "Name of the lock to watch, defaults to the configured lock name",
			},
		},
	}
}

func watchAction(st *state) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		name := cmd.String("lock")
		if name == "" {
			name = st.cfg.Lock.Name
		}

		logger := zerolog.Ctx(ctx).With().Str("cmd", "watch").Str("lock", name).Logger()
		ctx = logger.WithContext(ctx)

		bus, closeBus, err := openBus(ctx, st.cfg.Bus)
		if err != nil {
			return err
		}
		defer closeBus()

		msgs, err := mirror.Watch(ctx, bus, name)
		if err != nil {
			return err
		}
		logger.Info().Str("key", mirror.Key(name)).Msg("watching")

		w := writer(cmd)
		for msg := range msgs {
			fmt.Fprintf(w, "%s %s %-8s token=%d args=%d origin=%s\n",
				msg.At.Format(time.RFC3339Nano), msg.Lock, msg.Event, msg.Token, msg.Args, msg.Origin)
		}

		return nil
	}
}
