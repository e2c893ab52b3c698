package wix

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://www.wixapis.com"
	DefaultPageSize = 50
)

type Config struct {
	BaseURL           string
	APIKey            string
	SiteID            string
	PageSize          int
	RequestsPerSecond float64
}

type Client struct {
	cfg Config
	rq  *marketplace.Requester
}

func New(cfg Config) *Client {
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
		cfg: cfg,
		rq:  marketplace.NewRequester("wix", &http.Client{Timeout: marketplace.DefaultTimeout}, limiter, marketplace.NoRetry()),
	}
}

// SearchOrders returns one page of paid orders, newest first.
func (c *Client) SearchOrders(ctx context.Context, cursor string) (*Page, error) {
	if c.cfg.APIKey == "" || c.cfg.SiteID == "" {
		return nil, errors.Wrap(marketplace.ErrNotConfigured, "wix")
	}

	var body searchRequest
	body.Search.CursorPaging = cursorPaging{Limit: c.cfg.PageSize, Cursor: cursor}
	body.Search.Filter = map[string]string{"paymentStatus": "PAID"}
	body.Search.Sort = []sortField{{FieldName: "createdDate", Order: "DESC"}}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal search")
	}

	resp, err := c.rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/ecom/v1/orders/search", bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.cfg.APIKey)
		req.Header.Set("wix-site-id", c.cfg.SiteID)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "search orders")
	}

	var sr searchResponse
	if err := resp.DecodeJSON(&sr); err != nil {
		return nil, err
	}
	return &Page{Orders: sr.Orders, NextCursor: sr.NextCursor()}, nil
}

// FetchOrders walks the cursor until it passes the start of w. Dates are
// filtered here since the search filter only covers payment status.
func (c *Client) FetchOrders(ctx context.Context, w marketplace.Window) ([]Order, error) {
	var (
		out    []Order
		cursor string
	)
	for page := 1; ; page++ {
		p, err := c.SearchOrders(ctx, cursor)
		if err != nil {
			return nil, err
		}

		older := 0
		for _, o := range p.Orders {
			created, ok := orderTime(&o)
			switch {
			case !ok:
				slog.Warn("wix order without date skipped", "order_id", o.ID, "number", o.Number)
			case !w.From.IsZero() && created.Before(w.From):
				older++
			case !w.To.IsZero() && created.After(w.To):
			default:
				out = append(out, o)
			}
		}
		slog.Debug("wix page", "page", page, "count", len(p.Orders), "older", older)

		if older > 0 || len(p.Orders) < c.cfg.PageSize || p.NextCursor == "" {
			return out, nil
		}
		cursor = p.NextCursor
	}
}

// orderTime is the created date, or the updated date when created is unusable.
func orderTime(o *Order) (time.Time, bool) {
	if t, ok := parseTime(o.Created()); ok {
		return t, true
	}
	return parseTime(o.Updated())
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
