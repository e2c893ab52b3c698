package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequester_RetriesOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	token := "old"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	refreshed := 0
	rq := NewRequester("test", nil, nil, RetryPolicy{
		MaxAttempts: 2,
		OnUnauthorized: func(ctx context.Context) error {
			refreshed++
			token = "new"
			return nil
		},
	})

	resp, err := rq.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, refreshed)
	require.Equal(t, int32(2), calls.Load())

	var out struct{ OK bool }
	require.NoError(t, resp.DecodeJSON(&out))
	require.True(t, out.OK)
}

func TestRequester_SecondUnauthorizedIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("expired"))
	}))
	defer srv.Close()

	refreshed := 0
	rq := NewRequester("ml", nil, nil, RetryPolicy{
		MaxAttempts:    2,
		OnUnauthorized: func(ctx context.Context) error { refreshed++; return nil },
	})

	_, err := rq.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, StatusCode(err))
	require.Equal(t, 1, refreshed)
	require.Equal(t, int32(2), calls.Load())
}

func TestRequester_NonOKCarriesTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer srv.Close()

	rq := NewRequester("wix", &http.Client{Timeout: time.Second}, nil, NoRetry())
	_, err := rq.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.Error(t, err)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadGateway, he.StatusCode)
	require.Len(t, he.Body, maxErrorBody)
	require.Contains(t, err.Error(), "wix http 502")
}

func TestWindow_Contains(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Window{From: from, To: from.Add(24 * time.Hour)}
	require.True(t, w.Contains(from))
	require.True(t, w.Contains(from.Add(time.Hour)))
	require.False(t, w.Contains(from.Add(-time.Second)))
	require.False(t, w.Contains(from.Add(25*time.Hour)))
}
