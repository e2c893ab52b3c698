package halcon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/stretchr/testify/require"
)

func TestPush_SendsSecretAndPedido(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Secret string `json:"secret"`
			Pedido Pedido `json:"pedido"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "s3cret", in.Secret)
		require.Equal(t, "WIX-10021", in.Pedido.NumeroEnvio)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true,"serial":4521}`))
	}))
	defer srv.Close()

	c := New(Config{PushURL: srv.URL, Secret: "s3cret"})
	res, err := c.Push(context.Background(), Pedido{Origen: "wix", NumeroEnvio: "WIX-10021", NumeroPedidoWix: "10021"})
	require.NoError(t, err)
	serial, ok := res.Serial()
	require.True(t, ok)
	require.Equal(t, int64(4521), serial)
}

func TestPush_NonJSONIsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("recibido"))
	}))
	defer srv.Close()

	res, err := New(Config{PushURL: srv.URL, Secret: "x"}).Push(context.Background(), Pedido{})
	require.NoError(t, err)
	require.Equal(t, PushResult{"raw": "recibido"}, res)
	_, ok := res.Serial()
	require.False(t, ok)
}

func TestPush_NonOKIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"bad secret"}`))
	}))
	defer srv.Close()

	_, err := New(Config{PushURL: srv.URL, Secret: "x"}).Push(context.Background(), Pedido{})
	require.Equal(t, http.StatusForbidden, marketplace.StatusCode(err))
}

func TestPush_NotConfigured(t *testing.T) {
	_, err := New(Config{}).Push(context.Background(), Pedido{})
	require.ErrorIs(t, err, marketplace.ErrNotConfigured)
}

func TestDeliveredSince_BuildsQueryAndFlattensFields(t *testing.T) {
	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/flex-tracker/databases/(default)/documents:runQuery", r.URL.Path)
		require.Equal(t, "fb-key", r.URL.Query().Get("key"))

		var q map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		sq := q["structuredQuery"].(map[string]any)
		require.Equal(t, []any{map[string]any{"collectionId": CollectionFlex}}, sq["from"])
		filters := sq["where"].(map[string]any)["compositeFilter"].(map[string]any)["filters"].([]any)
		require.Len(t, filters, 2)
		second := filters[1].(map[string]any)["fieldFilter"].(map[string]any)
		require.Equal(t, "GREATER_THAN_OR_EQUAL", second["op"])
		require.Equal(t, map[string]any{"timestampValue": "2025-06-01T12:00:00Z"}, second["value"])

		_, _ = w.Write([]byte(`[
			{"document":{"name":"a","fields":{"numero_envio":{"stringValue":"77"},"intentos":{"integerValue":"2"}}}},
			{"readTime":"2025-06-01T12:30:00Z"}
		]`))
	}))
	defer srv.Close()

	c := New(Config{FirestoreURL: srv.URL, FirebaseKey: "fb-key", FirebaseProject: "flex-tracker"})
	docs, err := c.DeliveredSince(context.Background(), CollectionFlex, since)
	require.NoError(t, err)
	require.Equal(t, []map[string]string{{"numero_envio": "77", "intentos": "2"}}, docs)
}
