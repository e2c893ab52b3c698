// Package reconcile moves stored order statuses forward from what the
// marketplaces and the delivery partner report.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
)

type Store interface {
	ListPendingStatus(ctx context.Context, channel models.Channel, since time.Time) ([]models.Order, error)
	ListByMatch(ctx context.Context, m pgorders.Match) ([]models.Order, error)
	AdvanceStatus(ctx context.Context, m pgorders.Match, status models.Status, changedBy string) ([]models.StatusTransition, error)
}

type EventPublisher interface {
	PublishOrderEvents(ctx context.Context, evs ...models.OrderEvent) error
}

// Invalidator drops cached copies of orders after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Change is one status move, applied or, in dry-run, proposed.
type Change struct {
	ID      string         `json:"id,omitempty"`
	OrderID string         `json:"order_id"`
	Channel models.Channel `json:"channel"`
	From    models.Status  `json:"from"`
	To      models.Status  `json:"to"`
}

func changesFrom(trs []models.StatusTransition) []Change {
	out := make([]Change, 0, len(trs))
	for _, tr := range trs {
		out = append(out, Change{ID: tr.ID, OrderID: tr.Key.OrderID, Channel: tr.Key.Channel, From: tr.OldStatus, To: tr.NewStatus})
	}
	return out
}

// wouldAdvance lists the rows of m that a move to status would change.
func wouldAdvance(ctx context.Context, store Store, m pgorders.Match, status models.Status) ([]Change, error) {
	rows, err := store.ListByMatch(ctx, m)
	if err != nil {
		return nil, err
	}
	var out []Change
	for _, o := range rows {
		if o.Status.Advances(status) {
			out = append(out, Change{ID: o.ID, OrderID: o.OrderID, Channel: o.Channel, From: o.Status, To: status})
		}
	}
	return out, nil
}

// advanced drops the moved rows from the order cache and publishes their events.
func advanced(ctx context.Context, cache Invalidator, events EventPublisher, trs []models.StatusTransition, actor string) {
	if len(trs) == 0 {
		return
	}
	if cache != nil {
		ids := make([]string, 0, len(trs))
		for _, tr := range trs {
			ids = append(ids, tr.ID)
		}
		cache.Invalidate(ctx, ids...)
	}
	if events == nil {
		return
	}
	evs := make([]models.OrderEvent, 0, len(trs))
	for _, tr := range trs {
		evs = append(evs, tr.Event(actor))
	}
	if err := events.PublishOrderEvents(ctx, evs...); err != nil {
		// the events are already stored with the status write
		slog.Warn("publish status events", "actor", actor, "count", len(evs), "error", err.Error())
	}
}
