package wix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/stretchr/testify/require"
)

func TestSearchOrders_RequestShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ecom/v1/orders/search", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("Authorization"))
		require.Equal(t, "site", r.Header.Get("wix-site-id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"orders":[{"number":"10021","paymentStatus":"PAID"}],"pagingMetadata":{"cursors":{"next":"abc"}}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key", SiteID: "site"})
	page, err := c.SearchOrders(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "abc", page.NextCursor)
	require.Len(t, page.Orders, 1)
	require.Equal(t, "10021", page.Orders[0].Number)

	search := body["search"].(map[string]any)
	paging := search["cursorPaging"].(map[string]any)
	require.EqualValues(t, 50, paging["limit"])
	require.NotContains(t, paging, "cursor")
	require.Equal(t, map[string]any{"paymentStatus": "PAID"}, search["filter"])
	require.Equal(t, []any{map[string]any{"fieldName": "createdDate", "order": "DESC"}}, search["sort"])
}

func TestSearchOrders_MissingCredentials(t *testing.T) {
	_, err := New(Config{}).SearchOrders(context.Background(), "")
	require.ErrorIs(t, err, marketplace.ErrNotConfigured)
}

func TestFetchOrders_StopsAtWindowStart(t *testing.T) {
	base := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var orders []Order
		for i := 0; i < 2; i++ {
			created := base.Add(-time.Duration((calls-1)*2+i) * 24 * time.Hour)
			orders = append(orders, Order{Number: fmt.Sprintf("n%d-%d", calls, i), CreatedDate: created.Format(time.RFC3339)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders":   orders,
			"metadata": map[string]any{"cursors": map[string]any{"next": fmt.Sprintf("c%d", calls)}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", SiteID: "s", PageSize: 2})
	got, err := c.FetchOrders(context.Background(), marketplace.Window{From: base.Add(-3 * 24 * time.Hour), To: base})
	require.NoError(t, err)

	// page 1: 0d, 1d; page 2: 2d, 3d; page 3: 4d (older), 5d
	require.Equal(t, 3, calls)
	require.Len(t, got, 4)
	require.Equal(t, "n1-0", got[0].Number)
	require.Equal(t, "n2-1", got[3].Number)
}

func TestFetchOrders_StopsWithoutCursor(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"orders":[{"number":"1","_createdDate":"2025-05-01T00:00:00Z"},{"number":"2","_createdDate":"2025-05-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", SiteID: "s", PageSize: 2})
	got, err := c.FetchOrders(context.Background(), marketplace.Window{})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Len(t, got, 2)
}

func TestFetchOrders_UndatedOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orders":[
  {"number":"1","createdDate":"2025-05-02T00:00:00Z"},
  {"number":"2","createdDate":"garbage","updatedDate":"2025-05-03T00:00:00Z"},
  {"number":"3","createdDate":"garbage"},
  {"number":"4"}
]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", SiteID: "s", PageSize: 10})
	got, err := c.FetchOrders(context.Background(), marketplace.Window{From: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].Number)
	require.Equal(t, "2", got[1].Number)
}

func TestFetchOrders_PropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", SiteID: "s"})
	_, err := c.FetchOrders(context.Background(), marketplace.Window{})
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, marketplace.StatusCode(err))
}
