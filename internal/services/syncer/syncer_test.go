package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/wix"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore mimics the forward-only, write-avoiding upsert of pgorders.
type memStore struct {
	mu        sync.Mutex
	rows      map[models.OrderKey]models.Order
	deletes   []time.Time
	failNext  error
	upsertLen []int
}

func newMemStore() *memStore {
	return &memStore{rows: map[models.OrderKey]models.Order{}}
}

func (s *memStore) UpsertOrders(_ context.Context, orders []models.Order) (pgorders.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLen = append(s.upsertLen, len(orders))
	if err := s.failNext; err != nil {
		s.failNext = nil
		return pgorders.UpsertResult{}, err
	}

	var res pgorders.UpsertResult
	for _, o := range orders {
		prev, ok := s.rows[o.Key()]
		if !ok {
			o.ID = "id-" + o.OrderID
			s.rows[o.Key()] = o
			res.Inserted++
			res.Created = append(res.Created, o.ID)
			continue
		}
		o.ID = prev.ID
		if !prev.Status.Advances(o.Status) {
			o.Status = prev.Status
		}
		a, _ := json.Marshal(prev)
		b, _ := json.Marshal(o)
		if string(a) == string(b) {
			res.Unchanged++
			continue
		}
		s.rows[o.Key()] = o
		res.Updated++
		res.Refreshed = append(res.Refreshed, o.ID)
		if o.Status != prev.Status {
			res.Transitions = append(res.Transitions, models.StatusTransition{
				ID: o.ID, Key: o.Key(), OldStatus: prev.Status, NewStatus: o.Status, EventID: "ev-" + o.OrderID,
			})
		}
	}
	return res, nil
}

func (s *memStore) DeleteWindow(_ context.Context, channel models.Channel, from time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, from)
	var n int64
	for k, o := range s.rows {
		if k.Channel == channel && !o.OrderDate.Before(from) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) LatestOrderDate(_ context.Context, channel models.Channel) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for k, o := range s.rows {
		if k.Channel != channel {
			continue
		}
		if latest == nil || o.OrderDate.After(*latest) {
			t := o.OrderDate
			latest = &t
		}
	}
	return latest, nil
}

type invalidatorSpy struct{ ids []string }

func (s *invalidatorSpy) Invalidate(_ context.Context, ids ...string) { s.ids = append(s.ids, ids...) }

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishOrderEvents(ctx context.Context, evs ...models.OrderEvent) error {
	args := m.Called(ctx, evs)
	return args.Error(0)
}

type fakeML struct {
	mu        sync.Mutex
	orders    []mercadolibre.Order
	shipments map[string]*mercadolibre.Shipment
	fetchErr  error
	windows   []marketplace.Window
}

func (f *fakeML) FetchAllOrders(_ context.Context, w marketplace.Window) ([]mercadolibre.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	return f.orders, f.fetchErr
}

func (f *fakeML) GetOrder(_ context.Context, id string) (*mercadolibre.Order, error) {
	for _, o := range f.orders {
		if formatID(o.ID) == id {
			return &o, nil
		}
	}
	return nil, &marketplace.HTTPError{Service: "mercadolibre", StatusCode: 404}
}

func (f *fakeML) GetShipment(_ context.Context, id string) (*mercadolibre.Shipment, error) {
	if sh, ok := f.shipments[id]; ok {
		return sh, nil
	}
	return nil, &marketplace.HTTPError{Service: "mercadolibre", StatusCode: 500}
}

type fakeWix struct{}

func (fakeWix) FetchOrders(context.Context, marketplace.Window) ([]wix.Order, error) { return nil, nil }

type fakeFalabella struct {
	orders    []falabella.Order
	items     map[string][]falabella.OrderItem
	itemCalls [][]string
	failItems bool
	mu        sync.Mutex
}

func (f *fakeFalabella) FetchOrders(context.Context, time.Time) ([]falabella.Order, error) {
	return f.orders, nil
}

func (f *fakeFalabella) GetOrder(_ context.Context, id string) (*falabella.Order, error) {
	for _, o := range f.orders {
		if o.OrderID.String() == id {
			return &o, nil
		}
	}
	return nil, falabella.ErrOrderNotFound
}

func (f *fakeFalabella) GetMultipleOrderItems(_ context.Context, ids []string) (map[string][]falabella.OrderItem, error) {
	f.mu.Lock()
	f.itemCalls = append(f.itemCalls, ids)
	f.mu.Unlock()
	if f.failItems {
		return nil, errors.New("items down")
	}
	out := map[string][]falabella.OrderItem{}
	for _, id := range ids {
		out[id] = f.items[id]
	}
	return out, nil
}

func mlOrder(id, shippingID int64, created string) mercadolibre.Order {
	sid := shippingID
	return mercadolibre.Order{
		ID:          id,
		Status:      "paid",
		DateCreated: created,
		CurrencyID:  "COP",
		Buyer:       mercadolibre.Buyer{ID: 9, Nickname: "BUYER"},
		Shipping:    &mercadolibre.ShippingRef{ID: &sid},
	}
}

var fixedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestSyncer(store Store, pub EventPublisher, ml MercadoLibre, fb Falabella) *Syncer {
	s := New(store, pub, nil, ml, fakeWix{}, fb).WithPauses(0, 0)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestRun_IncrementalIsIdempotent(t *testing.T) {
	store := newMemStore()
	pub := &publisherMock{}
	ml := &fakeML{
		orders: []mercadolibre.Order{
			mlOrder(500, 77, "2025-06-01T10:00:00.000-05:00"),
			mlOrder(501, 78, "2025-06-02T10:00:00.000-05:00"),
		},
		shipments: map[string]*mercadolibre.Shipment{"77": {ID: 77, Status: "delivered"}},
	}
	s := newTestSyncer(store, pub, ml, nil)

	pub.On("PublishOrderEvents", mock.Anything, mock.MatchedBy(func(evs []models.OrderEvent) bool {
		return len(evs) == 2 && evs[0].EventType == models.EventOrderCreated && evs[0].Actor == "sync:mercadolibre"
	})).Return(nil).Once()

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.NoError(t, err)
	require.True(t, sum.Success)
	require.Equal(t, PhaseDone, sum.Phase)
	require.Equal(t, DefaultEpoch, ml.windows[0].From)
	require.Equal(t, fixedNow, ml.windows[0].To)
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 2, sum.Inserted)
	require.Equal(t, 1, sum.AuxFailures)
	require.Equal(t, models.StatusEntregado, store.rows[models.OrderKey{Channel: models.ChannelMercadoLibre, OrderID: "500"}].Status)

	// same upstream data: only unchanged rows and no events
	sum, err = s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.NoError(t, err)
	require.Equal(t, 0, sum.Inserted)
	require.Equal(t, 0, sum.Updated)
	require.Equal(t, 2, sum.Unchanged)

	latest := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	require.Equal(t, latest.Add(-48*time.Hour), ml.windows[1].From)
	pub.AssertExpectations(t)
}

func TestRun_ForwardStatusPublishesStatusChanged(t *testing.T) {
	store := newMemStore()
	pub := &publisherMock{}
	ml := &fakeML{
		orders:    []mercadolibre.Order{mlOrder(600, 90, "2025-06-01T10:00:00Z")},
		shipments: map[string]*mercadolibre.Shipment{"90": {ID: 90, Status: "handling"}},
	}
	inv := &invalidatorSpy{}
	s := newTestSyncer(store, pub, ml, nil).WithInvalidator(inv)
	pub.On("PublishOrderEvents", mock.Anything, mock.Anything).Return(nil).Once()
	_, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.NoError(t, err)
	require.Empty(t, inv.ids)

	ml.shipments["90"] = &mercadolibre.Shipment{ID: 90, Status: "shipped"}
	pub.On("PublishOrderEvents", mock.Anything, mock.MatchedBy(func(evs []models.OrderEvent) bool {
		return len(evs) == 1 && evs[0].EventType == models.EventStatusChanged &&
			*evs[0].OldValue == "preparando" && *evs[0].NewValue == "enviado"
	})).Return(nil).Once()

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Updated)
	require.Equal(t, []string{"id-600"}, inv.ids)
	pub.AssertExpectations(t)
}

func TestRun_FullRequiresConfirm(t *testing.T) {
	store := newMemStore()
	ml := &fakeML{}
	s := newTestSyncer(store, nil, ml, nil)

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre, Mode: ModeFull})
	require.ErrorIs(t, err, ErrNotConfirmed)
	require.Equal(t, PhaseFailed, sum.Phase)
	require.Empty(t, store.deletes)
	require.Empty(t, ml.windows)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.rows[models.OrderKey{Channel: models.ChannelMercadoLibre, OrderID: "1"}] = models.Order{
		OrderID: "1", Channel: models.ChannelMercadoLibre, OrderDate: from.Add(time.Hour),
	}
	sum, err = s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre, Mode: ModeFull, From: from, Confirm: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.Deleted)
	require.Equal(t, []time.Time{from}, store.deletes)
}

func TestRun_BatchFailureIsCounted(t *testing.T) {
	store := newMemStore()
	store.failNext = errors.New("deadlock detected")
	orders := make([]mercadolibre.Order, 0, 5)
	for i := int64(0); i < 5; i++ {
		o := mlOrder(700+i, 0, "2025-06-01T10:00:00Z")
		o.Shipping = nil
		orders = append(orders, o)
	}
	s := newTestSyncer(store, nil, &fakeML{orders: orders}, nil)
	s.upsertBatchSize = 2

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.NoError(t, err)
	require.True(t, sum.Success)
	require.Equal(t, []int{2, 2, 1}, store.upsertLen)
	require.Equal(t, 3, sum.Inserted)
	require.Len(t, sum.Errors, 1)
	require.Equal(t, 0, sum.AuxFailures)
}

func TestRun_FetchFailureAborts(t *testing.T) {
	s := newTestSyncer(newMemStore(), nil, &fakeML{fetchErr: marketplace.ErrNotConfigured}, nil)

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelMercadoLibre})
	require.ErrorIs(t, err, marketplace.ErrNotConfigured)
	require.False(t, sum.Success)
	require.Equal(t, PhaseFailed, sum.Phase)
}

func TestRun_FalabellaItemsBatched(t *testing.T) {
	fb := &fakeFalabella{items: map[string][]falabella.OrderItem{}}
	for i := 0; i < 45; i++ {
		id := marketplace.FlexString(formatID(int64(1000 + i)))
		fb.orders = append(fb.orders, falabella.Order{OrderID: id, CreatedAt: "2025-06-01 10:00:00"})
		fb.items[string(id)] = []falabella.OrderItem{{OrderItemID: "1", Status: "shipped"}}
	}
	store := newMemStore()
	s := newTestSyncer(store, nil, nil, fb)

	sum, err := s.Run(context.Background(), Request{Channel: models.ChannelFalabella, Mode: ModeFull, Confirm: true})
	require.NoError(t, err)
	require.Equal(t, fixedNow.AddDate(0, -6, 0), sum.From)
	require.Len(t, fb.itemCalls, 3)
	require.Equal(t, 45, sum.Inserted)
	require.Len(t, store.rows[models.OrderKey{Channel: models.ChannelFalabella, OrderID: "1000"}].Items, 1)

	fb.failItems = true
	sum, err = s.Run(context.Background(), Request{Channel: models.ChannelFalabella})
	require.NoError(t, err)
	require.Equal(t, 45, sum.AuxFailures)
}

func TestIngest(t *testing.T) {
	store := newMemStore()
	ml := &fakeML{
		orders:    []mercadolibre.Order{mlOrder(800, 91, "2025-06-01T10:00:00Z")},
		shipments: map[string]*mercadolibre.Shipment{"91": {ID: 91, Status: "ready_to_ship", Substatus: "ready_to_print"}},
	}
	fb := &fakeFalabella{orders: []falabella.Order{{OrderID: "55", CreatedAt: "2025-06-01 10:00:00"}}}
	s := newTestSyncer(store, nil, ml, fb)

	sum, err := s.IngestMercadoLibre(context.Background(), "/orders/800")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Inserted)

	_, err = s.IngestMercadoLibre(context.Background(), "/questions/1")
	require.ErrorIs(t, err, ErrUnsupportedResource)

	sum, err = s.IngestFalabella(context.Background(), []string{"55", "404"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Inserted)
	require.Len(t, sum.Errors, 1)
}

func TestWatermark(t *testing.T) {
	require.Equal(t, DefaultEpoch, Watermark(nil))
	last := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), Watermark(&last))
}
