package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/OrderBox/internal/broker/messages"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventHandler stores one consumed event. It must tolerate redelivery.
type OrderEventHandler func(ctx context.Context, ev models.OrderEvent) error

// Consumer reads the order events topic as part of a consumer group.
type Consumer struct {
	r       messageReader
	skipped atomic.Int64
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	if topic == "" {
		topic = messages.TopicOrderEvents
	}
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Skipped counts malformed messages committed without reaching the handler.
func (c *Consumer) Skipped() int64 { return c.skipped.Load() }

// ConsumeOrderEvents decodes each message and passes it to handle until ctx
// is done or handle fails. A message that does not decode is committed and
// skipped so it cannot block its partition. The offset of a decoded message is
// committed only after handle succeeds.
func (c *Consumer) ConsumeOrderEvents(ctx context.Context, handle OrderEventHandler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch order event")
		}

		ev, err := messages.DecodeOrderEvent(msg.Value)
		if err != nil {
			c.skipped.Add(1)
			slog.Warn("skipping malformed order event",
				"partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key), "error", err.Error())
		} else if err := handle(ctx, ev.Model()); err != nil {
			return errors.Wrapf(err, "handle order event %s", ev.ID)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit order event")
		}
	}
}
