package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollapse(t *testing.T) {
	cases := []struct {
		name string
		in   []Status
		want Status
	}{
		{"shipped beats pending", []Status{StatusNuevo, StatusEnviado}, StatusEnviado},
		{"delivered alone", []Status{StatusEntregado}, StatusEntregado},
		{"empty", nil, StatusNuevo},
		{"unknown", []Status{"whatever"}, StatusNuevo},
		{"cancel loses to open", []Status{StatusCancelado, StatusPreparando}, StatusPreparando},
		{"only cancel", []Status{StatusCancelado, StatusCancelado}, StatusCancelado},
		{"full set", []Status{StatusCancelado, StatusNuevo, StatusPreparando, StatusEnviado, StatusEntregado}, StatusEntregado},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Collapse(tc.in))
		})
	}
}

func TestStatus_Advances(t *testing.T) {
	require.True(t, StatusNuevo.Advances(StatusPreparando))
	require.True(t, StatusNuevo.Advances(StatusEntregado))
	require.True(t, StatusEnviado.Advances(StatusCancelado))
	require.False(t, StatusEnviado.Advances(StatusNuevo))
	require.False(t, StatusEntregado.Advances(StatusNuevo))
	require.False(t, StatusEntregado.Advances(StatusCancelado))
	require.False(t, StatusCancelado.Advances(StatusEntregado))
	require.False(t, StatusNuevo.Advances(StatusNuevo))
	require.False(t, StatusNuevo.Advances("bogus"))
}

func TestParseStatusAndChannel(t *testing.T) {
	s, err := ParseStatus(" Entregado ")
	require.NoError(t, err)
	require.Equal(t, StatusEntregado, s)

	_, err = ParseStatus("lost")
	require.Error(t, err)

	c, err := ParseChannel("ml")
	require.NoError(t, err)
	require.Equal(t, ChannelMercadoLibre, c)

	c, err = ParseChannel("FB")
	require.NoError(t, err)
	require.Equal(t, ChannelFalabella, c)

	_, err = ParseChannel("amazon")
	require.Error(t, err)
}

func TestOrderEvent_IsRelevantForFeed(t *testing.T) {
	enviado := "enviado"
	nuevo := "nuevo"
	require.True(t, OrderEvent{EventType: EventOrderCreated}.IsRelevantForFeed())
	require.True(t, OrderEvent{EventType: EventHalconAssigned}.IsRelevantForFeed())
	require.True(t, OrderEvent{EventType: EventStatusChanged, NewValue: &enviado}.IsRelevantForFeed())
	require.False(t, OrderEvent{EventType: EventStatusChanged, NewValue: &nuevo}.IsRelevantForFeed())
	require.False(t, OrderEvent{EventType: "other"}.IsRelevantForFeed())
}
