// Package orders is the dashboard's view of the order store.
package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/cache"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/pkg/errors"
)

const (
	defaultActor     = "dashboard"
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

var (
	ErrInvalidStatus    = errors.New("invalid status")
	ErrRemisionRequired = errors.New("remision is required")
)

type Repository interface {
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	CountOrders(ctx context.Context, f models.OrderFilter) (int, error)
	ListPackGroups(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	CountPacks(ctx context.Context, f models.OrderFilter) (int, error)
	CountByStatusChannel(ctx context.Context, since time.Time, f models.OrderFilter) ([]models.StatusChannelCount, error)
	ListCustomerOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListPackOrders(ctx context.Context, packID string) ([]models.Order, error)
	ChangeStatus(ctx context.Context, id string, status models.Status, changedBy string, notes *string) (models.Status, error)
	AssignRemision(ctx context.Context, ids []string, remision string, fecha time.Time, actor string) ([]models.OrderEvent, error)
	ListStatusHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error)
	ListEvents(ctx context.Context, limit int) ([]models.OrderEvent, error)
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	orderTTL time.Duration
	inv      *CacheInvalidator
	loc      *time.Location
	now      func() time.Time
}

func New(repo Repository, c cache.BytesCache, orderTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		cache:    c,
		orderTTL: orderTTL,
		inv:      NewCacheInvalidator(c),
		now:      time.Now,
	}
}

// OrdersPage is one page of rows; Total counts every row matching the filter.
type OrdersPage struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
}

type PacksPage struct {
	Packs []models.PackView `json:"packs"`
	Total int               `json:"total"`
}

func (s *Service) ListOrders(ctx context.Context, f models.OrderFilter) (OrdersPage, error) {
	rows, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		return OrdersPage{}, err
	}
	total, err := s.repo.CountOrders(ctx, f)
	if err != nil {
		return OrdersPage{}, err
	}
	return OrdersPage{Orders: rows, Total: total}, nil
}

// ListPacks pages over packs. Each pack carries all of its rows, including
// siblings outside the filter, so totals and statuses cover the whole pack.
func (s *Service) ListPacks(ctx context.Context, f models.OrderFilter) (PacksPage, error) {
	rows, err := s.repo.ListPackGroups(ctx, f)
	if err != nil {
		return PacksPage{}, err
	}
	total, err := s.repo.CountPacks(ctx, f)
	if err != nil {
		return PacksPage{}, err
	}
	return PacksPage{Packs: GroupIntoPacks(rows), Total: total}, nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.orderTTL > 0
}

// GetOrder reads through the order cache. Cache errors fall back to the store.
func (s *Service) GetOrder(ctx context.Context, id string) (models.Order, error) {
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, orderKey(id))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return o, nil
			}
		}
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if s.cacheEnabled() {
		b, _ := json.Marshal(o)
		_ = s.cache.Set(ctx, orderKey(id), b, s.orderTTL)
	}
	return o, nil
}

// siblings returns the ids a write on o applies to: the whole pack, or o alone.
func (s *Service) siblings(ctx context.Context, o models.Order) ([]models.Order, error) {
	if o.PackID == nil || *o.PackID == "" {
		return []models.Order{o}, nil
	}
	rows, err := s.repo.ListPackOrders(ctx, *o.PackID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.Order{o}, nil
	}
	return rows, nil
}

type StatusChange struct {
	ID      string        `json:"id"`
	OrderID string        `json:"order_id"`
	From    models.Status `json:"from"`
	To      models.Status `json:"to"`
}

// ChangeStatus sets status on the order and on every other row of its pack.
// The manual path is not forward-only.
func (s *Service) ChangeStatus(ctx context.Context, id string, status models.Status, changedBy string, notes *string) ([]StatusChange, error) {
	if !status.IsValid() {
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", status)
	}
	changedBy = strings.TrimSpace(changedBy)
	if changedBy == "" {
		changedBy = defaultActor
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.siblings(ctx, o)
	if err != nil {
		return nil, err
	}

	out := make([]StatusChange, 0, len(rows))
	for _, r := range rows {
		old, err := s.repo.ChangeStatus(ctx, r.ID, status, changedBy, notes)
		s.invalidate(ctx, r.ID)
		if err != nil {
			return out, errors.Wrapf(err, "change status of %s", r.OrderID)
		}
		out = append(out, StatusChange{ID: r.ID, OrderID: r.OrderID, From: old, To: status})
	}
	slog.Info("status changed", "id", id, "status", status, "changed_by", changedBy, "rows", len(out))
	return out, nil
}

// AssignRemision stamps the remision on the order and its pack siblings.
// A zero fecha means now.
func (s *Service) AssignRemision(ctx context.Context, id, remision string, fecha time.Time, actor string) ([]models.OrderEvent, error) {
	remision = strings.TrimSpace(remision)
	if remision == "" {
		return nil, ErrRemisionRequired
	}
	if fecha.IsZero() {
		fecha = time.Now().UTC()
	}
	if actor == "" {
		actor = defaultActor
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.siblings(ctx, o)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	evs, err := s.repo.AssignRemision(ctx, ids, remision, fecha, actor)
	s.invalidate(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return evs, nil
}

// Invalidate drops cached copies of the given orders.
func (s *Service) Invalidate(ctx context.Context, ids ...string) {
	s.invalidate(ctx, ids...)
}

func (s *Service) invalidate(ctx context.Context, ids ...string) {
	s.inv.Invalidate(ctx, ids...)
}

// CacheInvalidator drops order cache entries for writers that do not read
// through the Service, such as sync and the reconcile jobs.
type CacheInvalidator struct {
	cache cache.BytesCache
}

// NewCacheInvalidator accepts a nil cache, in which case Invalidate is a no-op.
func NewCacheInvalidator(c cache.BytesCache) *CacheInvalidator {
	return &CacheInvalidator{cache: c}
}

func (c *CacheInvalidator) Invalidate(ctx context.Context, ids ...string) {
	if c == nil || c.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, orderKey(id))
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("order cache invalidation", "error", err.Error())
	}
}

func (s *Service) ListHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	return s.repo.ListStatusHistory(ctx, id)
}

func (s *Service) ListFeed(ctx context.Context, limit int) ([]models.OrderEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultFeedLimit
	case limit > maxFeedLimit:
		limit = maxFeedLimit
	}
	return s.repo.ListEvents(ctx, limit)
}

func orderKey(id string) string {
	return "order:" + id
}
