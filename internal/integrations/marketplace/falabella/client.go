package falabella

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://sellercenter-api.falabella.com/"

	PageSize      = 100
	MaxOrders     = 1000
	MaxItemsBatch = 20
)

var (
	ErrOrderNotFound    = errors.New("falabella order not found")
	ErrDocumentNotFound = errors.New("falabella document not found")
)

type Config struct {
	BaseURL           string
	UserID            string
	APIKey            string
	RequestsPerSecond float64
}

type Client struct {
	cfg Config
	rq  *marketplace.Requester
	now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		cfg: cfg,
		rq:  marketplace.NewRequester("falabella", &http.Client{Timeout: marketplace.DefaultTimeout}, limiter, marketplace.NoRetry()),
		now: time.Now,
	}
}

func (c *Client) userAgent() string {
	return fmt.Sprintf("%s/Go/%s/PROPIA/FACO", c.cfg.UserID, strings.TrimPrefix(runtime.Version(), "go"))
}

func (c *Client) signedQuery(action, version string, params map[string]string) string {
	all := map[string]string{
		"Action":    action,
		"Format":    "JSON",
		"Timestamp": c.now().UTC().Format("2006-01-02T15:04:05Z"),
		"UserID":    c.cfg.UserID,
		"Version":   version,
	}
	for k, v := range params {
		all[k] = v
	}
	return canonical(all) + "&Signature=" + Sign(all, c.cfg.APIKey)
}

type call struct {
	method  string
	action  string
	version string
	params  map[string]string
	body    []byte
}

// do signs and sends one action and returns SuccessResponse.
func (c *Client) do(ctx context.Context, cl call) (*envelope, error) {
	if c.cfg.UserID == "" || c.cfg.APIKey == "" {
		return nil, errors.Wrap(marketplace.ErrNotConfigured, "falabella")
	}
	if cl.method == "" {
		cl.method = http.MethodGet
	}
	if cl.version == "" {
		cl.version = "1.0"
	}

	resp, err := c.rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		// Timestamp is part of the signature, so every attempt is signed anew.
		u := c.cfg.BaseURL + "?" + c.signedQuery(cl.action, cl.version, cl.params)
		var body io.Reader
		if cl.body != nil {
			body = bytes.NewReader(cl.body)
		}
		req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent())
		req.Header.Set("Accept", "application/json")
		if cl.body != nil {
			req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
		}
		return req, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, cl.action)
	}

	var env envelope
	if err := resp.DecodeJSON(&env); err != nil {
		return nil, errors.Wrap(err, cl.action)
	}
	if env.ErrorResponse != nil {
		h := env.ErrorResponse.Head
		return nil, &APIError{
			Action:  cl.action,
			Type:    h.ErrorType.String(),
			Code:    h.ErrorCode.String(),
			Message: h.ErrorMessage.String(),
		}
	}
	if env.SuccessResponse == nil {
		return nil, errors.Errorf("%s: empty response", cl.action)
	}
	return &env, nil
}

func decodeBody(env *envelope, v any) error {
	body := env.SuccessResponse.Body
	if len(bytes.TrimSpace(body)) == 0 || string(body) == `""` || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

// GetOrders returns one page of orders updated after updatedAfter.
func (c *Client) GetOrders(ctx context.Context, updatedAfter time.Time, offset int) (*OrdersPage, error) {
	env, err := c.do(ctx, call{
		action:  "GetOrders",
		version: "2.0",
		params: map[string]string{
			"Limit":        strconv.Itoa(PageSize),
			"Offset":       strconv.Itoa(offset),
			"UpdatedAfter": updatedAfter.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Orders orderList[Order] `json:"Orders"`
	}
	if err := decodeBody(env, &body); err != nil {
		return nil, err
	}
	total, _ := strconv.Atoi(env.SuccessResponse.Head.TotalCount.String())
	return &OrdersPage{Orders: body.Orders, TotalCount: total}, nil
}

// FetchOrders pages GetOrders until a short page or min(TotalCount, MaxOrders).
func (c *Client) FetchOrders(ctx context.Context, updatedAfter time.Time) ([]Order, error) {
	var all []Order
	for offset := 0; ; offset += PageSize {
		page, err := c.GetOrders(ctx, updatedAfter, offset)
		if err != nil {
			return nil, err
		}
		if len(page.Orders) == 0 {
			return all, nil
		}
		all = append(all, page.Orders...)
		slog.Debug("falabella page", "offset", offset, "count", len(page.Orders), "total", page.TotalCount)

		if len(page.Orders) < PageSize || len(all) >= min(page.TotalCount, MaxOrders) {
			return all, nil
		}
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	env, err := c.do(ctx, call{
		action:  "GetOrders",
		version: "2.0",
		params:  map[string]string{"OrderId": orderID},
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Orders orderList[Order] `json:"Orders"`
	}
	if err := decodeBody(env, &body); err != nil {
		return nil, err
	}
	if len(body.Orders) == 0 {
		return nil, errors.Wrap(ErrOrderNotFound, orderID)
	}
	return &body.Orders[0], nil
}

// jsonIDs renders ids as a JSON array, numeric where possible.
func jsonIDs(ids []string) string {
	vals := make([]any, 0, len(ids))
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			vals = append(vals, n)
		} else {
			vals = append(vals, id)
		}
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

// GetMultipleOrderItems returns items keyed by order id. At most MaxItemsBatch ids per call.
func (c *Client) GetMultipleOrderItems(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	if len(orderIDs) == 0 {
		return map[string][]OrderItem{}, nil
	}
	if len(orderIDs) > MaxItemsBatch {
		return nil, errors.Errorf("GetMultipleOrderItems: %d ids, max %d", len(orderIDs), MaxItemsBatch)
	}
	env, err := c.do(ctx, call{
		action: "GetMultipleOrderItems",
		params: map[string]string{"OrderIdList": jsonIDs(orderIDs)},
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Orders orderList[orderItems] `json:"Orders"`
	}
	if err := decodeBody(env, &body); err != nil {
		return nil, err
	}

	out := make(map[string][]OrderItem, len(orderIDs))
	for _, o := range body.Orders {
		var items []OrderItem
		if o.OrderItems != nil {
			items = o.OrderItems.OrderItem
		}
		out[o.OrderID.String()] = items
	}
	return out, nil
}

// GetDocument downloads the shipping parcel label for the given items.
func (c *Client) GetDocument(ctx context.Context, orderItemIDs []string) (*Document, error) {
	env, err := c.do(ctx, call{
		action: "GetDocument",
		params: map[string]string{
			"DocumentType": "shippingParcel",
			"OrderItemIds": jsonIDs(orderItemIDs),
		},
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Document *struct {
			MimeType string `json:"MimeType"`
			File     string `json:"File"`
		} `json:"Document"`
	}
	if err := decodeBody(env, &body); err != nil {
		return nil, err
	}
	if body.Document == nil || body.Document.File == "" {
		return nil, ErrDocumentNotFound
	}
	data, err := base64.StdEncoding.DecodeString(body.Document.File)
	if err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	mime := body.Document.MimeType
	if mime == "" {
		mime = "application/pdf"
	}
	return &Document{MimeType: mime, Data: data}, nil
}

func (c *Client) SetStatusToReadyToShip(ctx context.Context, orderItemIDs []string, packageID string) (json.RawMessage, error) {
	if len(orderItemIDs) == 0 || packageID == "" {
		return nil, errors.New("order item ids and package id are required")
	}
	env, err := c.do(ctx, call{
		method: http.MethodPost,
		action: "SetStatusToReadyToShip",
		params: map[string]string{
			"OrderItemIds": jsonIDs(orderItemIDs),
			"PackageId":    packageID,
		},
	})
	if err != nil {
		return nil, err
	}
	return env.SuccessResponse.Body, nil
}

func (c *Client) GetWebhookEntities(ctx context.Context) (json.RawMessage, error) {
	env, err := c.do(ctx, call{action: "GetWebhookEntities"})
	if err != nil {
		return nil, err
	}
	return env.SuccessResponse.Body, nil
}

type webhookRequest struct {
	XMLName xml.Name `xml:"Request"`
	Webhook struct {
		CallbackURL string   `xml:"CallbackUrl"`
		Events      []string `xml:"Events>Event"`
	} `xml:"Webhook"`
}

// CreateWebhook registers callbackURL for order creation and item status changes.
func (c *Client) CreateWebhook(ctx context.Context, callbackURL string) (*WebhookResult, error) {
	var wr webhookRequest
	wr.Webhook.CallbackURL = callbackURL
	wr.Webhook.Events = []string{"onOrderCreated", "onOrderItemsStatusChanged"}
	raw, err := xml.Marshal(wr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal webhook")
	}

	env, err := c.do(ctx, call{
		method: http.MethodPost,
		action: "CreateWebhook",
		body:   append([]byte(xml.Header), raw...),
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		WebhookID marketplace.FlexString `json:"WebhookId"`
	}
	if err := decodeBody(env, &body); err != nil {
		return nil, err
	}
	return &WebhookResult{WebhookID: body.WebhookID.String(), Body: env.SuccessResponse.Body}, nil
}
