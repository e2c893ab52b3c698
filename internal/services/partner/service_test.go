package partner

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/OrderBox/internal/integrations/partner/halcon"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type repoMock struct{ mock.Mock }

func (m *repoMock) GetOrder(ctx context.Context, id string) (models.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(models.Order)
	return o, args.Error(1)
}

func (m *repoMock) SetHalconSerial(ctx context.Context, id string, serial int64, actor string) (models.OrderEvent, error) {
	args := m.Called(ctx, id, serial, actor)
	ev, _ := args.Get(0).(models.OrderEvent)
	return ev, args.Error(1)
}

type pusherMock struct{ mock.Mock }

func (m *pusherMock) Push(ctx context.Context, p halcon.Pedido) (halcon.PushResult, error) {
	args := m.Called(ctx, p)
	res, _ := args.Get(0).(halcon.PushResult)
	return res, args.Error(1)
}

type invalidatorSpy struct{ ids []string }

func (s *invalidatorSpy) Invalidate(_ context.Context, ids ...string) { s.ids = append(s.ids, ids...) }

func TestPolicy_Eligible(t *testing.T) {
	p := DefaultPolicy()
	lt := models.StringPtr

	require.True(t, p.Eligible(models.Order{Channel: models.ChannelWix}))
	require.True(t, p.Eligible(models.Order{Channel: models.ChannelWix, LogisticType: lt("fulfillment")}))
	require.True(t, p.Eligible(models.Order{Channel: models.ChannelMercadoLibre, LogisticType: lt("self_service")}))
	require.True(t, p.Eligible(models.Order{Channel: models.ChannelMercadoLibre, LogisticType: lt("cross_docking")}))
	require.False(t, p.Eligible(models.Order{Channel: models.ChannelMercadoLibre, LogisticType: lt("fulfillment")}))
	require.False(t, p.Eligible(models.Order{Channel: models.ChannelMercadoLibre}))
	require.False(t, p.Eligible(models.Order{Channel: models.ChannelFalabella}))

	strict := Policy{{Channel: models.ChannelMercadoLibre, LogisticTypes: []string{"self_service"}}}
	require.False(t, strict.Eligible(models.Order{Channel: models.ChannelMercadoLibre, LogisticType: lt("cross_docking")}))
	require.False(t, strict.Eligible(models.Order{Channel: models.ChannelWix}))
}

func TestBuildPedido(t *testing.T) {
	o := models.Order{
		Channel:  models.ChannelWix,
		OrderID:  "10234",
		Customer: models.Customer{FirstName: "Ana", LastName: "Pérez"},
		ShippingAddress: &models.ShippingAddress{
			Street: "Calle 10 # 5-20", Comment: "Apto 301", City: "Bogotá", ReceiverPhone: "3001234567",
		},
	}
	require.Equal(t, halcon.Pedido{
		Origen:          "wix",
		NumeroEnvio:     "WIX-10234",
		NumeroPedidoWix: "10234",
		Destinatario:    "Ana Pérez",
		Celular:         "3001234567",
		Direccion:       "Calle 10 # 5-20, Apto 301",
		Ciudad:          "Bogotá",
	}, BuildPedido(o))

	ml := BuildPedido(models.Order{Channel: models.ChannelMercadoLibre, OrderID: "2000", Customer: models.Customer{Nickname: "COMPRADOR1"}})
	require.Equal(t, "mercadolibre", ml.Origen)
	require.Equal(t, "ML-2000", ml.NumeroEnvio)
	require.Equal(t, "COMPRADOR1", ml.Destinatario)
	require.Empty(t, ml.Direccion)
}

func TestService_Push_StoresSerial(t *testing.T) {
	o := models.Order{ID: "u-1", Channel: models.ChannelMercadoLibre, OrderID: "2000", LogisticType: models.StringPtr("self_service")}
	repo := &repoMock{}
	repo.On("GetOrder", mock.Anything, "u-1").Return(o, nil).Once()
	repo.On("SetHalconSerial", mock.Anything, "u-1", int64(4512), actor).Return(models.OrderEvent{ID: "e"}, nil).Once()
	pusher := &pusherMock{}
	pusher.On("Push", mock.Anything, BuildPedido(o)).Return(halcon.PushResult{"ok": true, "serial": "4512"}, nil).Once()
	spy := &invalidatorSpy{}

	res, err := New(repo, pusher, nil).WithInvalidator(spy).Push(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, true, res["ok"])
	require.Equal(t, []string{"u-1"}, spy.ids)
	repo.AssertExpectations(t)
	pusher.AssertExpectations(t)
}

func TestService_Push_NoSerialNoWrite(t *testing.T) {
	o := models.Order{ID: "u-2", Channel: models.ChannelWix, OrderID: "9"}
	repo := &repoMock{}
	repo.On("GetOrder", mock.Anything, "u-2").Return(o, nil).Once()
	pusher := &pusherMock{}
	pusher.On("Push", mock.Anything, mock.Anything).Return(halcon.PushResult{"raw": "ok"}, nil).Once()

	res, err := New(repo, pusher, nil).Push(context.Background(), "u-2")
	require.NoError(t, err)
	require.Equal(t, "ok", res["raw"])
	repo.AssertNotCalled(t, "SetHalconSerial", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Push_NotEligible(t *testing.T) {
	repo := &repoMock{}
	repo.On("GetOrder", mock.Anything, "u-3").Return(models.Order{ID: "u-3", Channel: models.ChannelFalabella}, nil).Once()
	pusher := &pusherMock{}

	_, err := New(repo, pusher, nil).Push(context.Background(), "u-3")
	require.ErrorIs(t, err, ErrNotEligible)
	pusher.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
}

func TestService_Push_PartnerError(t *testing.T) {
	repo := &repoMock{}
	repo.On("GetOrder", mock.Anything, "u-4").Return(models.Order{ID: "u-4", Channel: models.ChannelWix}, nil).Once()
	pusher := &pusherMock{}
	pusher.On("Push", mock.Anything, mock.Anything).Return(nil, errors.New("halcon push: status 502")).Once()

	_, err := New(repo, pusher, nil).Push(context.Background(), "u-4")
	require.Error(t, err)
	repo.AssertNotCalled(t, "SetHalconSerial", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
