package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type update struct {
	logisticType, storeID, storeName *string
}

type fakeStore struct {
	mu      sync.Mutex
	missing []models.Order
	updates map[string]update
}

func (s *fakeStore) ListMissingLogisticType(_ context.Context, _ int) ([]models.Order, error) {
	return s.missing, nil
}

func (s *fakeStore) ListMissingStore(_ context.Context, _ int) ([]models.Order, error) {
	return s.missing, nil
}

func (s *fakeStore) UpdateFulfillment(_ context.Context, id string, lt, storeID, storeName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = map[string]update{}
	}
	s.updates[id] = update{lt, storeID, storeName}
	return nil
}

type invalidatorSpy struct {
	mu  sync.Mutex
	ids []string
}

func (s *invalidatorSpy) Invalidate(_ context.Context, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ids...)
}

type fakeML struct {
	shipments map[string]string
	stores    map[string]string
}

func (f fakeML) GetOrder(_ context.Context, id string) (*mercadolibre.Order, error) {
	st, ok := f.stores[id]
	if !ok {
		return nil, &marketplace.HTTPError{Service: "mercadolibre", StatusCode: 404}
	}
	o := &mercadolibre.Order{}
	if st != "" {
		o.OrderItems = []mercadolibre.OrderItem{{Stock: &mercadolibre.Stock{StoreID: marketplace.FlexString(st)}}}
	}
	return o, nil
}

func (f fakeML) GetShipment(_ context.Context, id string) (*mercadolibre.Shipment, error) {
	lt, ok := f.shipments[id]
	if !ok {
		return nil, errors.New("shipment not found")
	}
	return &mercadolibre.Shipment{LogisticType: lt}, nil
}

func row(id, orderID, shippingID string) models.Order {
	return models.Order{ID: id, OrderID: orderID, Channel: models.ChannelMercadoLibre, ShippingID: models.StringPtr(shippingID)}
}

func TestLogisticType(t *testing.T) {
	store := &fakeStore{missing: []models.Order{
		row("u1", "1", "s1"),
		row("u2", "2", "s2"),
		row("u3", "3", ""),
		row("u4", "4", "s4"),
		row("u5", "5", "s5"),
		row("u6", "6", "s6"),
	}}
	ml := fakeML{shipments: map[string]string{"s1": "self_service", "s2": "", "s5": "fulfillment", "s6": "cross_docking"}}

	var progress []Counters
	svc := New(store, ml, nil, nil).WithProgress(func(job string, c Counters) {
		require.Equal(t, "logistic_type", job)
		progress = append(progress, c)
	})
	svc.pause = 0

	c, err := svc.LogisticType(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 6, c.Total)
	require.Equal(t, 3, c.Updated)
	require.Equal(t, 2, c.Skipped)
	require.Equal(t, 1, c.Failed)
	require.Len(t, c.Errors, 1)
	require.Contains(t, c.Errors[0], "order 4")
	require.Len(t, progress, 2)

	require.Equal(t, "self_service", *store.updates["u1"].logisticType)
	require.Nil(t, store.updates["u1"].storeID)
	require.NotContains(t, store.updates, "u2")
}

func TestStoreNames(t *testing.T) {
	store := &fakeStore{missing: []models.Order{row("u1", "1", ""), row("u2", "2", ""), row("u3", "3", ""), row("u9", "9", "")}}
	ml := fakeML{stores: map[string]string{"1": "76644462", "2": "999", "3": ""}}
	norm := normalize.New(map[string]string{"76644462": "MEDELLÍN"})

	inv := &invalidatorSpy{}
	svc := New(store, ml, norm, nil).WithInvalidator(inv)
	svc.pause = 0

	c, err := svc.StoreNames(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, c.Updated)
	require.ElementsMatch(t, []string{"u1", "u2"}, inv.ids)
	require.Equal(t, 1, c.Skipped)
	require.Equal(t, 1, c.Failed)

	require.Equal(t, "76644462", *store.updates["u1"].storeID)
	require.Equal(t, "MEDELLÍN", *store.updates["u1"].storeName)
	require.Equal(t, "999", *store.updates["u2"].storeID)
	require.Nil(t, store.updates["u2"].storeName)
	require.Nil(t, store.updates["u1"].logisticType)
}

type syncerMock struct{ mock.Mock }

func (m *syncerMock) Run(ctx context.Context, req syncer.Request) (syncer.Summary, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(syncer.Summary), args.Error(1)
}

func TestHistorical(t *testing.T) {
	_, err := New(nil, nil, nil, &syncerMock{}).Historical(context.Background(), []models.Channel{models.ChannelWix}, false)
	require.ErrorIs(t, err, syncer.ErrNotConfirmed)

	sm := &syncerMock{}
	sm.On("Run", mock.Anything, syncer.Request{Channel: models.ChannelWix, Mode: syncer.ModeFull, Confirm: true}).
		Return(syncer.Summary{Success: true, Channel: models.ChannelWix}, nil).Once()
	sm.On("Run", mock.Anything, syncer.Request{Channel: models.ChannelFalabella, Mode: syncer.ModeFull, Confirm: true}).
		Return(syncer.Summary{Channel: models.ChannelFalabella}, errors.New("falabella down")).Once()
	sm.On("Run", mock.Anything, syncer.Request{Channel: models.ChannelMercadoLibre, Mode: syncer.ModeFull, Confirm: true}).
		Return(syncer.Summary{Success: true, Channel: models.ChannelMercadoLibre}, nil).Once()

	sums, err := New(nil, nil, nil, sm).Historical(context.Background(),
		[]models.Channel{models.ChannelWix, models.ChannelFalabella, models.ChannelMercadoLibre}, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "historical sync falabella")
	require.Len(t, sums, 3)
	require.True(t, sums[2].Success)
	sm.AssertExpectations(t)
}
