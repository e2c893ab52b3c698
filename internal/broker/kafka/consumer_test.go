package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/broker/messages"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	i         int
	committed []kafka.Message
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func eventMessage(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	m := messages.FromModel(models.OrderEvent{
		ID: id, OrderID: "o-1", EventType: models.EventStatusChanged,
		NewValue: models.StringPtr("enviado"), CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	b, err := m.Encode()
	require.NoError(t, err)
	return kafka.Message{Key: m.Key(), Value: b, Offset: offset}
}

func TestConsumer_DecodesHandlesAndCommits(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{eventMessage(t, "ev-1", 1), eventMessage(t, "ev-2", 2)}}
	c := newConsumerWithReader(fr)

	var got []models.OrderEvent
	err := c.ConsumeOrderEvents(context.Background(), func(ctx context.Context, ev models.OrderEvent) error {
		got = append(got, ev)
		return nil
	})
	require.ErrorContains(t, err, "fetch order event")
	require.Len(t, got, 2)
	require.Equal(t, "ev-1", got[0].ID)
	require.Equal(t, models.EventStatusChanged, got[0].EventType)
	require.Equal(t, "enviado", models.Deref(got[0].NewValue))
	require.Len(t, fr.committed, 2)
}

func TestConsumer_SkipsMalformedMessages(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{
		{Value: []byte("not json"), Offset: 1},
		{Value: []byte(`{"id":"x"}`), Offset: 2},
		eventMessage(t, "ev-3", 3),
	}}
	c := newConsumerWithReader(fr)

	calls := 0
	_ = c.ConsumeOrderEvents(context.Background(), func(ctx context.Context, ev models.OrderEvent) error {
		calls++
		return nil
	})
	require.Equal(t, 1, calls)
	require.Equal(t, int64(2), c.Skipped())
	require.Len(t, fr.committed, 3)
}

func TestConsumer_HandlerErrorSkipsCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{eventMessage(t, "ev-1", 1)}}
	c := newConsumerWithReader(fr)

	want := errors.New("db down")
	err := c.ConsumeOrderEvents(context.Background(), func(ctx context.Context, ev models.OrderEvent) error { return want })
	require.ErrorIs(t, err, want)
	require.ErrorContains(t, err, "ev-1")
	require.Empty(t, fr.committed)
}

func TestConsumer_CommitError(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{eventMessage(t, "ev-1", 1)}, commitErr: errors.New("rebalance")}
	c := newConsumerWithReader(fr)

	err := c.ConsumeOrderEvents(context.Background(), func(ctx context.Context, ev models.OrderEvent) error { return nil })
	require.ErrorContains(t, err, "commit order event")
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "", "orderbox-api")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
