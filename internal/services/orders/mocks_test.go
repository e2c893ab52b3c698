package orders

import (
	"context"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type repoMock struct{ mock.Mock }

func (m *repoMock) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	args := m.Called(ctx, f)
	rows, _ := args.Get(0).([]models.Order)
	return rows, args.Error(1)
}

func (m *repoMock) CountOrders(ctx context.Context, f models.OrderFilter) (int, error) {
	args := m.Called(ctx, f)
	return args.Int(0), args.Error(1)
}

func (m *repoMock) ListPackGroups(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	args := m.Called(ctx, f)
	rows, _ := args.Get(0).([]models.Order)
	return rows, args.Error(1)
}

func (m *repoMock) CountPacks(ctx context.Context, f models.OrderFilter) (int, error) {
	args := m.Called(ctx, f)
	return args.Int(0), args.Error(1)
}

func (m *repoMock) CountByStatusChannel(ctx context.Context, since time.Time, f models.OrderFilter) ([]models.StatusChannelCount, error) {
	args := m.Called(ctx, since, f)
	rows, _ := args.Get(0).([]models.StatusChannelCount)
	return rows, args.Error(1)
}

func (m *repoMock) ListCustomerOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	args := m.Called(ctx, f)
	rows, _ := args.Get(0).([]models.Order)
	return rows, args.Error(1)
}

func (m *repoMock) GetOrder(ctx context.Context, id string) (models.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(models.Order)
	return o, args.Error(1)
}

func (m *repoMock) ListPackOrders(ctx context.Context, packID string) ([]models.Order, error) {
	args := m.Called(ctx, packID)
	rows, _ := args.Get(0).([]models.Order)
	return rows, args.Error(1)
}

func (m *repoMock) ChangeStatus(ctx context.Context, id string, status models.Status, changedBy string, notes *string) (models.Status, error) {
	args := m.Called(ctx, id, status, changedBy, notes)
	return args.Get(0).(models.Status), args.Error(1)
}

func (m *repoMock) AssignRemision(ctx context.Context, ids []string, remision string, fecha time.Time, actor string) ([]models.OrderEvent, error) {
	args := m.Called(ctx, ids, remision, fecha, actor)
	evs, _ := args.Get(0).([]models.OrderEvent)
	return evs, args.Error(1)
}

func (m *repoMock) ListStatusHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	args := m.Called(ctx, id)
	rows, _ := args.Get(0).([]models.StatusHistoryEntry)
	return rows, args.Error(1)
}

func (m *repoMock) ListEvents(ctx context.Context, limit int) ([]models.OrderEvent, error) {
	args := m.Called(ctx, limit)
	evs, _ := args.Get(0).([]models.OrderEvent)
	return evs, args.Error(1)
}

type cacheMock struct{ mock.Mock }

func (m *cacheMock) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *cacheMock) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *cacheMock) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}
