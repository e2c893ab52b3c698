package kafka

import (
	"context"

	"github.com/BearBump/OrderBox/internal/broker/messages"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer publishes order events keyed by order id, so one order's events
// land on one partition in order.
type Producer struct {
	w     messageWriter
	topic string
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w, topic: messages.TopicOrderEvents}
}

// WithTopic overrides the order events topic.
func (p *Producer) WithTopic(topic string) *Producer {
	if topic != "" {
		p.topic = topic
	}
	return p
}

// PublishOrderEvents writes evs to the order events topic in one batch.
func (p *Producer) PublishOrderEvents(ctx context.Context, evs ...models.OrderEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		m := messages.FromModel(ev)
		b, err := m.Encode()
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Topic: p.topic, Key: m.Key(), Value: b})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "kafka publish order events")
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
