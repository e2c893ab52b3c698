package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/broker/messages"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_PublishOrderEvents(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	err := p.PublishOrderEvents(context.Background(),
		models.OrderEvent{ID: "e1", OrderID: "o1", EventType: models.EventOrderCreated, CreatedAt: at},
		models.OrderEvent{ID: "e2", OrderID: "o2", EventType: models.EventOrderCreated, CreatedAt: at},
	)
	require.NoError(t, err)
	require.Len(t, fw.last, 2)
	require.Equal(t, messages.TopicOrderEvents, fw.last[0].Topic)
	require.Equal(t, []byte("o2"), fw.last[1].Key)

	got, err := messages.DecodeOrderEvent(fw.last[0].Value)
	require.NoError(t, err)
	require.Equal(t, "e1", got.ID)
}

func TestProducer_PublishOrderEvents_Empty(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)
	require.NoError(t, p.PublishOrderEvents(context.Background()))
	require.Nil(t, fw.last)
	require.NoError(t, p.Close())
}

func TestProducer_WithTopic(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw).WithTopic("orderbox.events.v2").WithTopic("")

	err := p.PublishOrderEvents(context.Background(), models.OrderEvent{ID: "e1", OrderID: "o1", EventType: models.EventOrderCreated})
	require.NoError(t, err)
	require.Equal(t, "orderbox.events.v2", fw.last[0].Topic)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
