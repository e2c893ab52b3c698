package messages

import (
	"encoding/json"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/pkg/errors"
)

const TopicOrderEvents = "orders.events"

// OrderEvent is the wire form of models.OrderEvent on TopicOrderEvents.
// Keyed by the internal order id so one order's events stay ordered.
type OrderEvent struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	EventType string    `json:"event_type"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func FromModel(e models.OrderEvent) OrderEvent {
	return OrderEvent{
		ID:        e.ID,
		OrderID:   e.OrderID,
		EventType: string(e.EventType),
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt.UTC(),
	}
}

func (m OrderEvent) Model() models.OrderEvent {
	return models.OrderEvent{
		ID:        m.ID,
		OrderID:   m.OrderID,
		EventType: models.EventType(m.EventType),
		OldValue:  m.OldValue,
		NewValue:  m.NewValue,
		Actor:     m.Actor,
		CreatedAt: m.CreatedAt,
	}
}

func (m OrderEvent) Key() []byte { return []byte(m.OrderID) }

func (m OrderEvent) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode order event")
	}
	return b, nil
}

func DecodeOrderEvent(b []byte) (OrderEvent, error) {
	var m OrderEvent
	if err := json.Unmarshal(b, &m); err != nil {
		return OrderEvent{}, errors.Wrap(err, "decode order event")
	}
	if m.ID == "" || m.OrderID == "" || m.EventType == "" {
		return OrderEvent{}, errors.New("order event: id, order_id and event_type are required")
	}
	return m, nil
}
