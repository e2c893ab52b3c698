package pgorders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `
  id::text, order_id, channel, pack_id, shipping_id,
  logistic_type, store_id, store_name, status,
  order_date, closed_date, total_amount::text, paid_amount::text, currency,
  customer, shipping_address, items, payment_info, tags, notes,
  remision_tbc, fecha_remision_tbc, halcon_serial, created_at, updated_at`

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// syncColumns are the columns sync may write, in insert order after order_id and channel.
// keep means a NULL from sync never clears a stored value.
var syncColumns = []struct {
	name string
	cast string
	keep bool
}{
	{"pack_id", "", true},
	{"shipping_id", "", true},
	{"logistic_type", "", true},
	{"store_id", "", true},
	{"store_name", "", true},
	{"status", "", false},
	{"order_date", "", false},
	{"closed_date", "", false},
	{"total_amount", "::numeric", false},
	{"paid_amount", "::numeric", false},
	{"currency", "", false},
	{"customer", "::jsonb", false},
	{"shipping_address", "::jsonb", true},
	{"items", "::jsonb", false},
	{"payment_info", "::jsonb", true},
	{"tags", "", false},
	{"notes", "", false},
}

// forwardSQL holds when EXCLUDED.status is a legal automated move from orders.status.
const forwardSQL = `(orders.status NOT IN ('entregado','cancelado')
    AND EXCLUDED.status <> orders.status
    AND (EXCLUDED.status = 'cancelado'
      OR array_position(ARRAY['nuevo','preparando','enviado','entregado']::text[], EXCLUDED.status)
       > array_position(ARRAY['nuevo','preparando','enviado','entregado']::text[], orders.status)))`

var upsertSQL = buildUpsertSQL()

func buildUpsertSQL() string {
	names := []string{"order_id", "channel"}
	params := []string{"$1", "$2"}
	var sets, cur, next []string
	for i, c := range syncColumns {
		names = append(names, c.name)
		params = append(params, fmt.Sprintf("$%d%s", i+3, c.cast))

		var expr string
		switch {
		case c.name == "status":
			expr = "CASE WHEN " + forwardSQL + " THEN EXCLUDED.status ELSE orders.status END"
		case c.keep:
			expr = fmt.Sprintf("COALESCE(EXCLUDED.%s, orders.%s)", c.name, c.name)
		default:
			expr = "EXCLUDED." + c.name
		}
		if c.name != "status" {
			cur = append(cur, "orders."+c.name)
			next = append(next, expr)
		}
		sets = append(sets, c.name+" = "+expr)
	}
	sets = append(sets, "updated_at = now()")

	return fmt.Sprintf(`
WITH prev AS (
  SELECT status FROM orders WHERE order_id = $1 AND channel = $2
), up AS (
  INSERT INTO orders (%s)
  VALUES (%s)
  ON CONFLICT (channel, order_id) DO UPDATE SET
    %s
  WHERE (%s) IS DISTINCT FROM (%s)
     OR %s
  RETURNING id::text, (xmax = 0) AS inserted, status
)
SELECT up.id, up.inserted, up.status, prev.status
FROM up LEFT JOIN prev ON true`,
		strings.Join(names, ", "),
		strings.Join(params, ", "),
		strings.Join(sets, ",\n    "),
		strings.Join(cur, ", "),
		strings.Join(next, ", "),
		forwardSQL,
	)
}

// UpsertResult reports what one UpsertOrders call did.
// Created and Refreshed hold the internal ids of inserted and rewritten rows.
type UpsertResult struct {
	Inserted    int
	Updated     int
	Unchanged   int
	Created     []string
	Refreshed   []string
	Transitions []models.StatusTransition
}

// UpsertOrders inserts or refreshes orders by (channel, order_id) in one tx.
// Rows equal to the stored ones are not written. Status only moves forward,
// and every move gets a history row. Remision and partner columns are untouched.
func (s *Storage) UpsertOrders(ctx context.Context, orders []models.Order) (UpsertResult, error) {
	var res UpsertResult
	if len(orders) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range orders {
		o := &orders[i]
		args, err := upsertArgs(o)
		if err != nil {
			return UpsertResult{}, err
		}

		var (
			id        string
			inserted  bool
			status    string
			oldStatus *string
		)
		err = tx.QueryRow(ctx, upsertSQL, args...).Scan(&id, &inserted, &status, &oldStatus)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			res.Unchanged++
			continue
		case err != nil:
			return UpsertResult{}, errors.Wrapf(err, "upsert order %s/%s", o.Channel, o.OrderID)
		}

		if inserted {
			res.Inserted++
			res.Created = append(res.Created, id)
			continue
		}
		res.Updated++
		res.Refreshed = append(res.Refreshed, id)

		if oldStatus == nil || *oldStatus == status {
			continue
		}
		tr := models.StatusTransition{
			ID:        id,
			Key:       o.Key(),
			OldStatus: models.Status(*oldStatus),
			NewStatus: models.Status(status),
			EventID:   uuid.NewString(),
			At:        time.Now().UTC(),
		}
		if err := insertHistory(ctx, tx, tr, "sync:"+string(o.Channel), nil); err != nil {
			return UpsertResult{}, err
		}
		res.Transitions = append(res.Transitions, tr)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

func upsertArgs(o *models.Order) ([]any, error) {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return nil, errors.Wrap(err, "marshal customer")
	}
	items := o.Items
	if items == nil {
		items = []models.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal items")
	}
	addr, err := nullableJSON(o.ShippingAddress)
	if err != nil {
		return nil, errors.Wrap(err, "marshal shipping address")
	}
	payment, err := nullableJSON(o.PaymentInfo)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payment info")
	}
	tags := o.Tags
	if tags == nil {
		tags = []string{}
	}
	status := o.Status
	if !status.IsValid() {
		status = models.StatusNuevo
	}

	return []any{
		o.OrderID, string(o.Channel),
		o.PackID, o.ShippingID, o.LogisticType, o.StoreID, o.StoreName,
		string(status), o.OrderDate.UTC(), utcPtr(o.ClosedDate),
		o.TotalAmount.String(), o.PaidAmount.String(), o.Currency,
		string(customer), addr, string(itemsJSON), payment, tags, o.Notes,
	}, nil
}

func nullableJSON[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := string(b)
	return &out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// DeleteWindow removes every row of channel placed at or after from.
func (s *Storage) DeleteWindow(ctx context.Context, channel models.Channel, from time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM orders WHERE channel = $1 AND order_date >= $2`, string(channel), from.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete window")
	}
	return tag.RowsAffected(), nil
}

// LatestOrderDate is nil when the channel has no rows.
func (s *Storage) LatestOrderDate(ctx context.Context, channel models.Channel) (*time.Time, error) {
	var t *time.Time
	if err := s.db.QueryRow(ctx, `SELECT max(order_date) FROM orders WHERE channel = $1`, string(channel)).Scan(&t); err != nil {
		return nil, errors.Wrap(err, "latest order date")
	}
	return t, nil
}

type binder struct {
	args []any
}

func (b *binder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// filterConds renders the listing filter of f, without paging.
func filterConds(f models.OrderFilter, b *binder) []string {
	var where []string
	if f.Status != nil {
		where = append(where, "status = "+b.arg(string(*f.Status)))
	}
	if f.Channel != nil {
		where = append(where, "channel = "+b.arg(string(*f.Channel)))
	}
	if len(f.Stores) > 0 {
		where = append(where, "store_id = ANY("+b.arg(f.Stores)+")")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := b.arg("%" + q + "%")
		where = append(where, fmt.Sprintf("(order_id ILIKE %s OR customer->>'nickname' ILIKE %s OR customer->>'email' ILIKE %s)", p, p, p))
	}
	return where
}

func whereSQL(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(conds, " AND ")
}

func page(f models.OrderFilter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return min(limit, maxListLimit), max(f.Offset, 0)
}

func (s *Storage) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	b := &binder{}
	q := "SELECT" + orderColumns + "\nFROM orders" + whereSQL(filterConds(f, b))
	limit, offset := page(f)
	q += fmt.Sprintf("\nORDER BY order_date DESC, order_id\nLIMIT %s OFFSET %s", b.arg(limit), b.arg(offset))

	return s.queryOrders(ctx, q, b.args...)
}

// CountOrders counts the rows ListOrders pages through for f.
func (s *Storage) CountOrders(ctx context.Context, f models.OrderFilter) (int, error) {
	b := &binder{}
	var n int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM orders"+whereSQL(filterConds(f, b)), b.args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

// packKeySQL groups rows the way the pack view does: by pack_id, else alone.
const packKeySQL = `COALESCE(NULLIF(pack_id, ''), id::text)`

// ListPackGroups pages over packs instead of rows. A pack is on the page when
// any of its rows matches f, and then every sibling is returned, matching or
// not. Rows come newest pack first, each pack's rows contiguous.
func (s *Storage) ListPackGroups(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	b := &binder{}
	limit, offset := page(f)
	q := fmt.Sprintf(`
WITH page AS (
  SELECT %s AS pack_key, max(order_date) AS latest
  FROM orders%s
  GROUP BY 1
  ORDER BY latest DESC, pack_key
  LIMIT %s OFFSET %s
)
SELECT%s
FROM page
JOIN orders ON %s = page.pack_key
ORDER BY page.latest DESC, page.pack_key, order_date DESC, order_id`,
		packKeySQL, whereSQL(filterConds(f, b)), b.arg(limit), b.arg(offset),
		orderColumns, packKeySQL)

	return s.queryOrders(ctx, q, b.args...)
}

func (s *Storage) CountPacks(ctx context.Context, f models.OrderFilter) (int, error) {
	b := &binder{}
	var n int
	q := "SELECT count(DISTINCT " + packKeySQL + ") FROM orders" + whereSQL(filterConds(f, b))
	if err := s.db.QueryRow(ctx, q, b.args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count packs")
	}
	return n, nil
}

// CountByStatusChannel counts the rows placed since, grouped by status and
// channel. The status filter of f is ignored.
func (s *Storage) CountByStatusChannel(ctx context.Context, since time.Time, f models.OrderFilter) ([]models.StatusChannelCount, error) {
	f.Status = nil
	b := &binder{}
	conds := append(filterConds(f, b), "order_date >= "+b.arg(since.UTC()))
	rows, err := s.db.Query(ctx, "SELECT status, channel, count(*) FROM orders"+whereSQL(conds)+"\nGROUP BY status, channel", b.args...)
	if err != nil {
		return nil, errors.Wrap(err, "count by status")
	}
	defer rows.Close()

	out := []models.StatusChannelCount{}
	for rows.Next() {
		var (
			c               models.StatusChannelCount
			status, channel string
		)
		if err := rows.Scan(&status, &channel, &c.Count); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		c.Status = models.Status(status)
		c.Channel = models.Channel(channel)
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListCustomerOrders returns every row matching f, unpaged, oldest first.
func (s *Storage) ListCustomerOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	b := &binder{}
	q := "SELECT" + orderColumns + "\nFROM orders" + whereSQL(filterConds(f, b)) + "\nORDER BY order_date, order_id"
	return s.queryOrders(ctx, q, b.args...)
}

func (s *Storage) GetOrder(ctx context.Context, id string) (models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Order{}, ErrNotFound
	}
	return s.getOrder(ctx, `WHERE id = $1`, id)
}

func (s *Storage) GetOrderByKey(ctx context.Context, channel models.Channel, orderID string) (models.Order, error) {
	return s.getOrder(ctx, `WHERE channel = $1 AND order_id = $2`, string(channel), orderID)
}

func (s *Storage) getOrder(ctx context.Context, where string, args ...any) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, "SELECT"+orderColumns+"\nFROM orders\n"+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (s *Storage) ListPackOrders(ctx context.Context, packID string) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT"+orderColumns+`
FROM orders
WHERE pack_id = $1
ORDER BY order_date, order_id`, packID)
}

// ListPendingStatus returns the non-terminal orders of channel placed since.
func (s *Storage) ListPendingStatus(ctx context.Context, channel models.Channel, since time.Time) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT"+orderColumns+`
FROM orders
WHERE channel = $1
  AND status NOT IN ('entregado','cancelado')
  AND order_date >= $2
ORDER BY order_date DESC`, string(channel), since.UTC())
}

func (s *Storage) ListMissingLogisticType(ctx context.Context, limit int) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT"+orderColumns+`
FROM orders
WHERE channel = 'mercadolibre'
  AND logistic_type IS NULL
  AND shipping_id IS NOT NULL
ORDER BY order_date DESC
LIMIT $1`, backfillLimit(limit))
}

func (s *Storage) ListMissingStore(ctx context.Context, limit int) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT"+orderColumns+`
FROM orders
WHERE channel = 'mercadolibre'
  AND store_id IS NULL
ORDER BY order_date DESC
LIMIT $1`, backfillLimit(limit))
}

func backfillLimit(limit int) int {
	if limit <= 0 {
		return 10000
	}
	return limit
}

// UpdateFulfillment fills the given fulfillment fields, leaving nil ones as stored.
func (s *Storage) UpdateFulfillment(ctx context.Context, id string, logisticType, storeID, storeName *string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  logistic_type = COALESCE($2, logistic_type),
  store_id = COALESCE($3, store_id),
  store_name = COALESCE($4, store_name),
  updated_at = now()
WHERE id = $1::uuid
`, id, logisticType, storeID, storeName)
	if err != nil {
		return errors.Wrap(err, "update fulfillment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) queryOrders(ctx context.Context, q string, args ...any) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o                     models.Order
		channel, status       string
		total, paid           string
		customer, items       []byte
		shippingAddr, payment []byte
	)
	if err := row.Scan(
		&o.ID, &o.OrderID, &channel, &o.PackID, &o.ShippingID,
		&o.LogisticType, &o.StoreID, &o.StoreName, &status,
		&o.OrderDate, &o.ClosedDate, &total, &paid, &o.Currency,
		&customer, &shippingAddr, &items, &payment, &o.Tags, &o.Notes,
		&o.RemisionTBC, &o.FechaRemisionTBC, &o.HalconSerial, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return models.Order{}, err
	}
	o.Channel = models.Channel(channel)
	o.Status = models.Status(status)

	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return models.Order{}, errors.Wrap(err, "total_amount")
	}
	if o.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return models.Order{}, errors.Wrap(err, "paid_amount")
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return models.Order{}, errors.Wrap(err, "customer")
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return models.Order{}, errors.Wrap(err, "items")
	}
	if len(shippingAddr) > 0 {
		o.ShippingAddress = &models.ShippingAddress{}
		if err := json.Unmarshal(shippingAddr, o.ShippingAddress); err != nil {
			return models.Order{}, errors.Wrap(err, "shipping_address")
		}
	}
	if len(payment) > 0 {
		o.PaymentInfo = &models.PaymentInfo{}
		if err := json.Unmarshal(payment, o.PaymentInfo); err != nil {
			return models.Order{}, errors.Wrap(err, "payment_info")
		}
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	return o, nil
}
