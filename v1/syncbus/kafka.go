package syncbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

// KafkaBus implements Bus using a Kafka backend. Each key maps to a topic
// with a single partition.
type KafkaBus struct {
	client    sarama.Client
	producer  sarama.SyncProducer
	consumer  sarama.Consumer
	mu        sync.Mutex
	hub       *hub
	subs      map[string]sarama.PartitionConsumer
	published atomic.Uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	bus := NewKafkaBusFrom(producer, consumer)
	bus.client = client
	return bus, nil
}

// NewKafkaBusFrom builds a KafkaBus on top of an existing producer and
// consumer.
func NewKafkaBusFrom(producer sarama.SyncProducer, consumer sarama.Consumer) *KafkaBus {
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		hub:      newHub(),
		subs:     make(map[string]sarama.PartitionConsumer),
	}
}

// topicFor maps a bus key onto a legal Kafka topic name.
func topicFor(key string) string {
	return strings.NewReplacer(":", ".", "/", ".", " ", "_").Replace(key)
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: topicFor(key), Value: sarama.ByteEncoder(data)}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, first := b.hub.add(key)
	if first {
		pc, err := b.consumer.ConsumePartition(topicFor(key), 0, sarama.OffsetNewest)
		if err != nil {
			b.hub.remove(key, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[key] = pc
		go b.dispatch(key, pc)
	}
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

func (b *KafkaBus) dispatch(key string, pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		b.hub.deliver(key, msg.Value)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	found, last := b.hub.remove(key, ch)
	if !found || !last {
		return nil
	}
	pc := b.subs[key]
	delete(b.subs, key)
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// Subscribers returns the number of local subscribers of key.
func (b *KafkaBus) Subscribers(key string) int {
	return b.hub.count(key)
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.hub.delivered.Load(),
	}
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() {
	b.mu.Lock()
	for key, pc := range b.subs {
		_ = pc.Close()
		delete(b.subs, key)
	}
	b.mu.Unlock()
	_ = b.producer.Close()
	_ = b.consumer.Close()
	if b.client != nil {
		_ = b.client.Close()
	}
	b.hub.closeAll()
}
