package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Match selects the rows an automated status write applies to.
// OrderID wins over ShippingID when both are set.
type Match struct {
	Channel    models.Channel
	OrderID    string
	ShippingID string
}

func (m Match) where() (string, string, error) {
	switch {
	case m.OrderID != "":
		return "order_id = $2", m.OrderID, nil
	case m.ShippingID != "":
		return "shipping_id = $2", m.ShippingID, nil
	}
	return "", "", errors.New("match: order id or shipping id required")
}

// ListByMatch returns the rows an AdvanceStatus with m would consider.
func (s *Storage) ListByMatch(ctx context.Context, m Match) ([]models.Order, error) {
	where, key, err := m.where()
	if err != nil {
		return nil, err
	}
	return s.queryOrders(ctx, "SELECT"+orderColumns+"\nFROM orders\nWHERE channel = $1 AND "+where, string(m.Channel), key)
}

func insertHistory(ctx context.Context, db execer, tr models.StatusTransition, changedBy string, notes *string) error {
	var old *string
	if tr.OldStatus != "" {
		v := string(tr.OldStatus)
		old = &v
	}
	_, err := db.Exec(ctx, `
INSERT INTO order_status_history (order_id, old_status, new_status, changed_by, notes, changed_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
`, tr.ID, old, string(tr.NewStatus), changedBy, notes, tr.At)
	return errors.Wrap(err, "insert status history")
}

// ChangeStatus is the manual path: any status may be set.
// History and the feed event are written in the same tx.
func (s *Storage) ChangeStatus(ctx context.Context, id string, status models.Status, changedBy string, notes *string) (models.Status, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		old     string
		orderID string
		channel string
	)
	err = tx.QueryRow(ctx, `SELECT status, order_id, channel FROM orders WHERE id = $1::uuid FOR UPDATE`, id).Scan(&old, &orderID, &channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "select order status")
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1::uuid`, id, string(status)); err != nil {
		return "", errors.Wrap(err, "update status")
	}

	tr := models.StatusTransition{
		ID:        id,
		Key:       models.OrderKey{Channel: models.Channel(channel), OrderID: orderID},
		OldStatus: models.Status(old),
		NewStatus: status,
		EventID:   uuid.NewString(),
		At:        time.Now().UTC(),
	}
	if err := insertHistory(ctx, tx, tr, changedBy, notes); err != nil {
		return "", err
	}
	if err := insertEvent(ctx, tx, tr.Event(changedBy)); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.Wrap(err, "commit tx")
	}
	return tr.OldStatus, nil
}

// AdvanceStatus moves the matched rows to status when that is a forward move.
// Rows already at status, or terminal, are left alone.
func (s *Storage) AdvanceStatus(ctx context.Context, m Match, status models.Status, changedBy string) ([]models.StatusTransition, error) {
	where, key, err := m.where()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, order_id, status
FROM orders
WHERE channel = $1 AND `+where+` AND status <> $3
FOR UPDATE
`, string(m.Channel), key, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "select orders to advance")
	}
	var candidates []models.StatusTransition
	for rows.Next() {
		var (
			tr  models.StatusTransition
			old string
		)
		if err := rows.Scan(&tr.ID, &tr.Key.OrderID, &old); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan order to advance")
		}
		tr.Key.Channel = m.Channel
		tr.OldStatus = models.Status(old)
		tr.NewStatus = status
		if tr.OldStatus.Advances(status) {
			candidates = append(candidates, tr)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	now := time.Now().UTC()
	out := make([]models.StatusTransition, 0, len(candidates))
	for _, tr := range candidates {
		tag, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1::uuid AND status <> $2`, tr.ID, string(status))
		if err != nil {
			return nil, errors.Wrap(err, "advance status")
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		tr.EventID = uuid.NewString()
		tr.At = now
		if err := insertHistory(ctx, tx, tr, changedBy, nil); err != nil {
			return nil, err
		}
		if err := insertEvent(ctx, tx, tr.Event(changedBy)); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}

// AssignRemision stamps the remision on every id. Returns the written events.
func (s *Storage) AssignRemision(ctx context.Context, ids []string, remision string, fecha time.Time, actor string) ([]models.OrderEvent, error) {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, ErrNotFound
		}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	evs := make([]models.OrderEvent, 0, len(ids))
	for _, id := range ids {
		var old *string
		err := tx.QueryRow(ctx, `SELECT remision_tbc FROM orders WHERE id = $1::uuid FOR UPDATE`, id).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "select remision")
		}
		if _, err := tx.Exec(ctx, `
UPDATE orders
SET remision_tbc = $2, fecha_remision_tbc = $3, updated_at = now()
WHERE id = $1::uuid
`, id, remision, fecha.UTC()); err != nil {
			return nil, errors.Wrap(err, "assign remision")
		}

		next := remision
		ev := models.OrderEvent{
			ID:        uuid.NewString(),
			OrderID:   id,
			EventType: models.EventRemisionAssigned,
			OldValue:  old,
			NewValue:  &next,
			Actor:     actor,
			CreatedAt: now,
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return evs, nil
}

func (s *Storage) SetHalconSerial(ctx context.Context, id string, serial int64, actor string) (models.OrderEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.OrderEvent{}, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.OrderEvent{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE orders SET halcon_serial = $2, updated_at = now() WHERE id = $1::uuid`, id, serial)
	if err != nil {
		return models.OrderEvent{}, errors.Wrap(err, "set halcon serial")
	}
	if tag.RowsAffected() == 0 {
		return models.OrderEvent{}, ErrNotFound
	}

	v := formatInt(serial)
	ev := models.OrderEvent{
		ID:        uuid.NewString(),
		OrderID:   id,
		EventType: models.EventHalconAssigned,
		NewValue:  &v,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return models.OrderEvent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.OrderEvent{}, errors.Wrap(err, "commit tx")
	}
	return ev, nil
}

func (s *Storage) ListStatusHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(ctx, `
SELECT id::text, order_id::text, old_status, new_status, changed_by, notes, changed_at
FROM order_status_history
WHERE order_id = $1::uuid
ORDER BY changed_at DESC, id
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select status history")
	}
	defer rows.Close()

	out := []models.StatusHistoryEntry{}
	for rows.Next() {
		var (
			e    models.StatusHistoryEntry
			old  *string
			next string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &old, &next, &e.ChangedBy, &e.Notes, &e.ChangedAt); err != nil {
			return nil, errors.Wrap(err, "scan status history")
		}
		if old != nil {
			st := models.Status(*old)
			e.OldStatus = &st
		}
		e.NewStatus = models.Status(next)
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
