package pgorders

import (
	"context"
	"strconv"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const defaultFeedLimit = 50

func insertEvent(ctx context.Context, db execer, ev models.OrderEvent) error {
	_, err := db.Exec(ctx, `
INSERT INTO order_events (id, order_id, event_type, old_value, new_value, actor, created_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`, ev.ID, ev.OrderID, string(ev.EventType), ev.OldValue, ev.NewValue, ev.Actor, ev.CreatedAt.UTC())
	return errors.Wrap(err, "insert order event")
}

// InsertEvent is idempotent on the event id.
func (s *Storage) InsertEvent(ctx context.Context, ev models.OrderEvent) error {
	return insertEvent(ctx, s.db, ev)
}

// PublishOrderEvents stores evs directly. Used when no broker is configured.
func (s *Storage) PublishOrderEvents(ctx context.Context, evs ...models.OrderEvent) error {
	if len(evs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, ev := range evs {
		b.Queue(`
INSERT INTO order_events (id, order_id, event_type, old_value, new_value, actor, created_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`, ev.ID, ev.OrderID, string(ev.EventType), ev.OldValue, ev.NewValue, ev.Actor, ev.CreatedAt.UTC())
	}
	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert order events")
	}
	return nil
}

// ListEvents returns the newest feed-relevant events joined with their order.
func (s *Storage) ListEvents(ctx context.Context, limit int) ([]models.OrderEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultFeedLimit
	}

	rows, err := s.db.Query(ctx, `
SELECT
  e.id::text, e.order_id::text, e.event_type, e.old_value, e.new_value, e.actor, e.created_at,
  o.pack_id, o.channel, o.order_id
FROM order_events e
JOIN orders o ON o.id = e.order_id
WHERE e.event_type IN ('order_created','remision_assigned','halcon_assigned')
   OR (e.event_type = 'status_changed' AND e.new_value IN ('enviado','entregado'))
ORDER BY e.created_at DESC, e.id
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []models.OrderEvent{}
	for rows.Next() {
		var (
			e         models.OrderEvent
			eventType string
			channel   string
		)
		if err := rows.Scan(
			&e.ID, &e.OrderID, &eventType, &e.OldValue, &e.NewValue, &e.Actor, &e.CreatedAt,
			&e.PackID, &channel, &e.ExternalOrderID,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.EventType = models.EventType(eventType)
		e.Channel = models.Channel(channel)
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
