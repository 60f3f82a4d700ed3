package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/mirkobrombin/go-padlock/v1/config"
)

// Version defines the version of the binary, and is meant to be set with ldflags at build time.
//
//nolint:gochecknoglobals
var Version = "dev"

// state carries what Before prepared for the subcommands.
type state struct {
	cfg       config.Config
	telemetry *telemetry
}

func newApp() *cli.Command {
	st := &state{}

	return &cli.Command{
		Name:    "padlock",
		Usage:   "Exercise and observe cooperative FIFO locks",
		Version: Version,
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return ctx, err
			}
			st.cfg = cfg

			lvl, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return ctx, fmt.Errorf("error parsing the log-level %q: %w", cfg.LogLevel, err)
			}

			var output io.Writer = os.Stderr
			if term.IsTerminal(int(os.Stderr.Fd())) {
				output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
			}

			ctx = zerolog.New(output).Level(lvl).With().Timestamp().Logger().WithContext(ctx)

			st.telemetry, err = setupTracing(ctx, cfg.Trace.Stdout, os.Stderr)
			if err != nil {
				return ctx, err
			}

			zerolog.Ctx(ctx).
				Debug().
				Str("bus", cfg.Bus.Driver).
				Str("lock", cfg.Lock.Name).
				Str("log-level", lvl.String()).
				Msg("logger created")

			return ctx, nil
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if st.telemetry == nil {
				return nil
			}

			return st.telemetry.Shutdown(ctx)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML or JSON configuration file",
				Sources: cli.EnvVars("PADLOCK_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Set the log level",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
				Validator: func(lvl string) error {
					_, err := zerolog.ParseLevel(lvl)

					return err
				},
			},
			&cli.StringFlag{
				Name:    "lock-name",
				Usage:   "Name of the lock, used in events, logs and metric labels",
				Sources: cli.EnvVars("PADLOCK_LOCK_NAME"),
			},
			&cli.DurationFlag{
				Name:    "default-timeout",
				Usage:   "Release holders automatically after this long (0 disables)",
				Sources: cli.EnvVars("PADLOCK_DEFAULT_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "bus",
				Usage:   "Event bus driver: memory, redis, nats or kafka",
				Sources: cli.EnvVars("PADLOCK_BUS"),
				Value:   config.BusMemory,
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the redis bus",
				Sources: cli.EnvVars("PADLOCK_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL for the nats bus",
				Sources: cli.EnvVars("PADLOCK_NATS_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-broker",
				Usage:   "Kafka broker address for the kafka bus, may be repeated",
				Sources: cli.EnvVars("PADLOCK_KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve /metrics, /events and /ws on this address",
				Sources: cli.EnvVars("PADLOCK_METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "trace-stdout",
				Usage:   "Export hold spans to stderr",
				Sources: cli.EnvVars("PADLOCK_TRACE_STDOUT"),
			},
		},
		Commands: []*cli.Command{
			scenarioCommand(st),
			watchCommand(st),
		},
	}
}

// loadConfig layers the configuration file and explicitly set flags over
// the defaults.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("error loading the configuration %q: %w", path, err)
		}
	}

	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("lock-name") {
		cfg.Lock.Name = cmd.String("lock-name")
	}
	if cmd.IsSet("default-timeout") {
		cfg.Lock.DefaultTimeoutMS = int(cmd.Duration("default-timeout").Milliseconds())
	}
	if cmd.IsSet("bus") {
		cfg.Bus.Driver = cmd.String("bus")
	}
	if cmd.IsSet("redis-addr") {
		cfg.Bus.RedisAddr = cmd.String("redis-addr")
	}
	if cmd.IsSet("nats-url") {
		cfg.Bus.NATSURL = cmd.String("nats-url")
	}
	if cmd.IsSet("kafka-broker") {
		cfg.Bus.KafkaBrokers = cmd.StringSlice("kafka-broker")
	}
	if cmd.IsSet("metrics-addr") {
		cfg.Metrics.Addr = cmd.String("metrics-addr")
	}
	if cmd.IsSet("trace-stdout") {
		cfg.Trace.Stdout = cmd.Bool("trace-stdout")
	}

	return cfg, cfg.Validate()
}

// writer returns where command output goes.
func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}
