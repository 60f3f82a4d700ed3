package main

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mirkobrombin/go-padlock/v1/config"
	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
	"github.com/mirkobrombin/go-padlock/v1/syncbus"
)

// openBus connects the configured bus. Network drivers are wrapped in a
// circuit breaker when a threshold is configured. The returned close
// function releases every connection.
func openBus(ctx context.Context, cfg config.Bus) (syncbus.Bus, func(), error) {
	logger := zerolog.Ctx(ctx).With().Str("bus", cfg.Driver).Logger()

	var (
		bus     syncbus.Bus
		closeFn func()
	)

	switch cfg.Driver {
	case config.BusMemory:
		return syncbus.NewInMemoryBus(), func() {}, nil

	case config.BusRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("error connecting to redis at %q: %w", cfg.RedisAddr, err)
		}
		rb := syncbus.NewRedisBus(client)
		bus = rb
		closeFn = func() {
			_ = rb.Close()
			_ = client.Close()
		}
		logger.Info().Str("redis-addr", cfg.RedisAddr).Msg("connected to redis")

	case config.BusNATS:
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to nats at %q: %w", cfg.NATSURL, err)
		}
		nb := syncbus.NewNATSBus(conn)
		bus = nb
		closeFn = func() {
			_ = nb.Close()
			conn.Close()
		}
		logger.Info().Str("nats-url", cfg.NATSURL).Msg("connected to nats")

	case config.BusKafka:
		scfg := sarama.NewConfig()
		scfg.Producer.Return.Successes = true
		kb, err := syncbus.NewKafkaBus(cfg.KafkaBrokers, scfg)
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to kafka at %v: %w", cfg.KafkaBrokers, err)
		}
		bus = kb
		closeFn = kb.Close
		logger.Info().Strs("kafka-brokers", cfg.KafkaBrokers).Msg("connected to kafka")

	default:
		return nil, nil, fmt.Errorf("%w: %q", pderrors.ErrUnknownBus, cfg.Driver)
	}

	if cfg.BreakerThreshold > 0 {
		cooldown := time.Duration(cfg.BreakerCooldownMS) * time.Millisecond
		bus = syncbus.NewCircuitBreaker(bus, uint32(cfg.BreakerThreshold), cooldown)
	}

	return bus, closeFn, nil
}
