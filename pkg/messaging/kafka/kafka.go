package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
)

type Config struct {
	Brokers []string
	GroupID string
}

// Broker publishes with a shared kafka.Writer and reads each subscription
// through its own consumer-group reader.
type Broker struct {
	cfg    Config
	writer *kafka.Writer
	logger *logger.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewBroker(cfg Config, log *logger.Logger) (messaging.Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &Broker{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: log,
	}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, message interface{}) error {
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg := kafka.Message{Topic: topic, Value: value}
	// Keying by aggregate keeps one case's events on one partition.
	if env, ok := message.(messaging.Envelope); ok {
		msg.Key = []byte(env.AggregateID)
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    topic,
		GroupID:  b.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	out := make(chan []byte, 100)
	go func() {
		defer close(out)
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error(err, "kafka read failed", "topic", topic)
				}
				return
			}
			select {
			case out <- msg.Value:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := []error{b.writer.Close()}
	for _, r := range b.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
