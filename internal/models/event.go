package models

import "time"

type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventStatusChanged    EventType = "status_changed"
	EventRemisionAssigned EventType = "remision_assigned"
	EventHalconAssigned   EventType = "halcon_assigned"
)

// OrderEvent is one entry of the activity feed.
type OrderEvent struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	EventType EventType `json:"event_type"`
	OldValue  *string   `json:"old_value"`
	NewValue  *string   `json:"new_value"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Filled on read from the joined order.
	PackID          *string `json:"pack_id,omitempty"`
	Channel         Channel `json:"channel,omitempty"`
	ExternalOrderID string  `json:"external_order_id,omitempty"`
}

// IsRelevantForFeed filters out status moves the dashboard does not show.
func (e OrderEvent) IsRelevantForFeed() bool {
	switch e.EventType {
	case EventOrderCreated, EventRemisionAssigned, EventHalconAssigned:
		return true
	case EventStatusChanged:
		v := Deref(e.NewValue)
		return v == string(StatusEnviado) || v == string(StatusEntregado)
	}
	return false
}

type StatusHistoryEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	OldStatus *Status   `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	Notes     *string   `json:"notes"`
	ChangedAt time.Time `json:"changed_at"`
}
