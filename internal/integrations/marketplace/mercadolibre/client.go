package mercadolibre

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.mercadolibre.com"
	DefaultPageSize = 50

	tokenKey   = "ml:access_token"
	refreshKey = "ml:refresh_token"

	// ML refresh tokens are single-use and live six months.
	refreshTokenTTL = 180 * 24 * time.Hour
)

// TokenStore shares the current access and refresh tokens between processes.
type TokenStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Config struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	AccessToken       string
	SellerID          string
	PageSize          int
	RequestsPerSecond float64
}

type Client struct {
	cfg    Config
	rq     *marketplace.Requester
	tokens TokenStore

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func New(cfg Config, tokens TokenStore) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		cfg:          cfg,
		rq:           marketplace.NewRequester("mercadolibre", &http.Client{Timeout: marketplace.DefaultTimeout}, limiter, marketplace.RetryPolicy{MaxAttempts: 2}),
		tokens:       tokens,
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}
}

func (c *Client) PageSize() int { return c.cfg.PageSize }

func (c *Client) currentToken(ctx context.Context) string {
	c.mu.Lock()
	tok := c.accessToken
	c.mu.Unlock()
	if tok != "" || c.tokens == nil {
		return tok
	}
	b, ok, err := c.tokens.Get(ctx, tokenKey)
	if err != nil || !ok {
		return ""
	}
	c.mu.Lock()
	if c.accessToken == "" {
		c.accessToken = string(b)
	}
	tok = c.accessToken
	c.mu.Unlock()
	return tok
}

// RefreshToken exchanges the refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	return c.refresh(ctx, "")
}

// refresh skips the exchange when another caller, here or in another process,
// already replaced stale.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stale != "" && c.accessToken != "" && c.accessToken != stale {
		return c.accessToken, nil
	}
	if tok := c.loadShared(ctx); stale != "" && tok != "" && tok != stale {
		c.accessToken = tok
		return tok, nil
	}
	if c.refreshToken == "" || c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", errors.Wrap(marketplace.ErrNotConfigured, "mercadolibre refresh")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", c.refreshToken)

	rq := *c.rq
	rq.Policy = marketplace.NoRetry()
	resp, err := rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "mercadolibre token refresh")
	}

	var tr tokenResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", errors.New("mercadolibre token refresh: empty access_token")
	}
	c.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	c.storeShared(ctx, tr)
	slog.Info("mercadolibre token refreshed", "expires_in", tr.ExpiresIn)
	return tr.AccessToken, nil
}

// loadShared adopts the shared refresh token and returns the shared access
// token. Called with c.mu held.
func (c *Client) loadShared(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	if b, ok, err := c.tokens.Get(ctx, refreshKey); err == nil && ok && len(b) > 0 {
		c.refreshToken = string(b)
	}
	b, ok, err := c.tokens.Get(ctx, tokenKey)
	if err != nil || !ok {
		return ""
	}
	return string(b)
}

func (c *Client) storeShared(ctx context.Context, tr tokenResponse) {
	if c.tokens == nil {
		return
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if err := c.tokens.Set(ctx, tokenKey, []byte(tr.AccessToken), ttl); err != nil {
		slog.Warn("store ml access token", "error", err.Error())
	}
	if tr.RefreshToken == "" {
		return
	}
	if err := c.tokens.Set(ctx, refreshKey, []byte(tr.RefreshToken), refreshTokenTTL); err != nil {
		slog.Warn("store ml refresh token", "error", err.Error())
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*marketplace.Response, error) {
	if c.currentToken(ctx) == "" {
		if _, err := c.refresh(ctx, ""); err != nil {
			return nil, err
		}
	}

	var used string
	rq := *c.rq
	rq.Policy.OnUnauthorized = func(ctx context.Context) error {
		_, err := c.refresh(ctx, used)
		return err
	}

	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		used = c.currentToken(ctx)
		req.Header.Set("Authorization", "Bearer "+used)
		return req, nil
	})
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// SearchOrders returns one page of seller orders created inside w, newest first.
func (c *Client) SearchOrders(ctx context.Context, w marketplace.Window, offset int) (*OrdersPage, error) {
	if c.cfg.SellerID == "" {
		return nil, errors.Wrap(marketplace.ErrNotConfigured, "mercadolibre seller id")
	}
	q := url.Values{}
	q.Set("seller", c.cfg.SellerID)
	q.Set("sort", "date_desc")
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	if !w.From.IsZero() {
		q.Set("order.date_created.from", formatDate(w.From))
	}
	if !w.To.IsZero() {
		q.Set("order.date_created.to", formatDate(w.To))
	}

	resp, err := c.get(ctx, "/orders/search", q)
	if err != nil {
		return nil, errors.Wrap(err, "search orders")
	}
	var page OrdersPage
	if err := resp.DecodeJSON(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchAllOrders pages until a page is shorter than the page size.
func (c *Client) FetchAllOrders(ctx context.Context, w marketplace.Window) ([]Order, error) {
	var all []Order
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := c.SearchOrders(ctx, w, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		slog.Debug("mercadolibre page", "offset", offset, "count", len(page.Results))
		if len(page.Results) < c.cfg.PageSize {
			return all, nil
		}
	}
}

func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	resp, err := c.get(ctx, "/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("get order %s", id))
	}
	var o Order
	if err := resp.DecodeJSON(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) GetShipment(ctx context.Context, id string) (*Shipment, error) {
	resp, err := c.get(ctx, "/shipments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("get shipment %s", id))
	}
	var s Shipment
	if err := resp.DecodeJSON(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLabel downloads the shipping label PDF.
func (c *Client) GetLabel(ctx context.Context, shipmentID string) ([]byte, error) {
	q := url.Values{}
	q.Set("shipment_ids", shipmentID)
	q.Set("response_type", "pdf")
	resp, err := c.get(ctx, "/shipment_labels", q)
	if err != nil {
		return nil, errors.Wrap(err, "get label")
	}
	return resp.Body, nil
}

// OrderIDFromResource parses "/orders/123" style notification resources.
func OrderIDFromResource(resource string) (string, bool) {
	parts := strings.Split(strings.Trim(resource, "/"), "/")
	if len(parts) != 2 || parts[0] != "orders" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
