package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  order_id TEXT NOT NULL,
  channel TEXT NOT NULL,
  pack_id TEXT NULL,
  shipping_id TEXT NULL,
  logistic_type TEXT NULL,
  store_id TEXT NULL,
  store_name TEXT NULL,
  status TEXT NOT NULL,
  order_date TIMESTAMPTZ NOT NULL,
  closed_date TIMESTAMPTZ NULL,
  total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'COP',
  customer JSONB NOT NULL DEFAULT '{}',
  shipping_address JSONB NULL,
  items JSONB NOT NULL DEFAULT '[]',
  payment_info JSONB NULL,
  tags TEXT[] NOT NULL DEFAULT '{}',
  notes TEXT NULL,
  remision_tbc TEXT NULL,
  fecha_remision_tbc TIMESTAMPTZ NULL,
  halcon_serial BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_channel_order_id ON orders(channel, order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_order_date ON orders(order_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pack_id ON orders(pack_id) WHERE pack_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shipping_id ON orders(shipping_id) WHERE shipping_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_orders_channel_status ON orders(channel, status)`,
		`
CREATE TABLE IF NOT EXISTS order_status_history (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  old_status TEXT NULL,
  new_status TEXT NOT NULL,
  changed_by TEXT NOT NULL,
  notes TEXT NULL,
  changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id ON order_status_history(order_id, changed_at DESC)`,
		// No FK: events arrive through kafka and may outlive a resynced row.
		`
CREATE TABLE IF NOT EXISTS order_events (
  id UUID PRIMARY KEY,
  order_id UUID NOT NULL,
  event_type TEXT NOT NULL,
  old_value TEXT NULL,
  new_value TEXT NULL,
  actor TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_created_at ON order_events(created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
