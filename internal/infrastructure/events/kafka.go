package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ProactiveInsights/internal/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultPublishTimeout bounds one Publish call including retries.
const DefaultPublishTimeout = 2 * time.Second

// KafkaPublisher streams insight lifecycle events as JSON messages.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

var _ ports.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher writes to topic with leader acks. Each Publish gives up
// after DefaultPublishTimeout so an unreachable broker cannot stall a poll loop.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  2,
			WriteTimeout: DefaultPublishTimeout,
			ReadTimeout:  DefaultPublishTimeout,
		},
		timeout: DefaultPublishTimeout,
		now:     time.Now,
	}
}

// WithTimeout overrides the per-Publish bound; zero disables it.
func (p *KafkaPublisher) WithTimeout(d time.Duration) *KafkaPublisher {
	p.timeout = d
	return p
}

// Publish marshals event and writes it keyed by key (the insight id), so all
// events of one insight land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  p.now().UTC(),
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
