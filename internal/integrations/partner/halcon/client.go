package halcon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/pkg/errors"
)

const (
	DefaultFirestoreURL = "https://firestore.googleapis.com/v1"

	CollectionWix  = "pedidos_wix"
	CollectionFlex = "pedidos_flex"
)

type Config struct {
	PushURL         string
	Secret          string
	FirestoreURL    string
	FirebaseKey     string
	FirebaseProject string
}

// Pedido is the order shape the partner system accepts.
type Pedido struct {
	Origen          string `json:"origen"`
	NumeroEnvio     string `json:"numero_envio"`
	NumeroPedidoWix string `json:"numero_pedido_wix"`
	Destinatario    string `json:"destinatario"`
	Celular         string `json:"celular"`
	Direccion       string `json:"direccion"`
	Ciudad          string `json:"ciudad"`
}

// PushResult is the partner's answer, {raw: text} when it is not JSON.
type PushResult map[string]any

// Serial returns the partner-assigned serial when the response carries one.
func (r PushResult) Serial() (int64, bool) {
	for _, k := range []string{"serial", "halcon_serial", "numero_serial"} {
		switch v := r[k].(type) {
		case float64:
			return int64(v), true
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

type Client struct {
	cfg Config
	rq  *marketplace.Requester
}

func New(cfg Config) *Client {
	if cfg.FirestoreURL == "" {
		cfg.FirestoreURL = DefaultFirestoreURL
	}
	cfg.FirestoreURL = strings.TrimRight(cfg.FirestoreURL, "/")
	return &Client{
		cfg: cfg,
		rq:  marketplace.NewRequester("halcon", &http.Client{Timeout: marketplace.DefaultTimeout}, nil, marketplace.NoRetry()),
	}
}

func (c *Client) Push(ctx context.Context, p Pedido) (PushResult, error) {
	if c.cfg.PushURL == "" || c.cfg.Secret == "" {
		return nil, errors.Wrap(marketplace.ErrNotConfigured, "halcon push")
	}
	raw, err := json.Marshal(struct {
		Secret string `json:"secret"`
		Pedido Pedido `json:"pedido"`
	}{c.cfg.Secret, p})
	if err != nil {
		return nil, errors.Wrap(err, "marshal pedido")
	}

	resp, err := c.rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PushURL, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "halcon push")
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var out PushResult
		if err := resp.DecodeJSON(&out); err == nil && out != nil {
			return out, nil
		}
	}
	return PushResult{"raw": string(resp.Body)}, nil
}

type value struct {
	StringValue    *string  `json:"stringValue,omitempty"`
	IntegerValue   *string  `json:"integerValue,omitempty"`
	DoubleValue    *float64 `json:"doubleValue,omitempty"`
	TimestampValue *string  `json:"timestampValue,omitempty"`
	BooleanValue   *bool    `json:"booleanValue,omitempty"`
}

func (v value) String() string {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntegerValue != nil:
		return *v.IntegerValue
	case v.DoubleValue != nil:
		return strconv.FormatFloat(*v.DoubleValue, 'f', -1, 64)
	case v.TimestampValue != nil:
		return *v.TimestampValue
	case v.BooleanValue != nil:
		return strconv.FormatBool(*v.BooleanValue)
	}
	return ""
}

type fieldFilter struct {
	Field struct {
		FieldPath string `json:"fieldPath"`
	} `json:"field"`
	Op    string `json:"op"`
	Value value  `json:"value"`
}

func newFilter(path, op string, v value) map[string]fieldFilter {
	f := fieldFilter{Op: op, Value: v}
	f.Field.FieldPath = path
	return map[string]fieldFilter{"fieldFilter": f}
}

func deliveredQuery(collection string, since time.Time) map[string]any {
	estado := "entregado"
	ts := since.UTC().Format(time.RFC3339Nano)
	return map[string]any{
		"structuredQuery": map[string]any{
			"from": []map[string]string{{"collectionId": collection}},
			"where": map[string]any{
				"compositeFilter": map[string]any{
					"op": "AND",
					"filters": []map[string]fieldFilter{
						newFilter("estado", "EQUAL", value{StringValue: &estado}),
						newFilter("fecha_entrega", "GREATER_THAN_OR_EQUAL", value{TimestampValue: &ts}),
					},
				},
			},
		},
	}
}

// DeliveredSince returns the fields of documents in collection marked
// entregado with fecha_entrega >= since. Values are flattened to strings.
func (c *Client) DeliveredSince(ctx context.Context, collection string, since time.Time) ([]map[string]string, error) {
	if c.cfg.FirebaseKey == "" || c.cfg.FirebaseProject == "" {
		return nil, errors.Wrap(marketplace.ErrNotConfigured, "halcon firestore")
	}
	raw, err := json.Marshal(deliveredQuery(collection, since))
	if err != nil {
		return nil, errors.Wrap(err, "marshal query")
	}
	u := fmt.Sprintf("%s/projects/%s/databases/(default)/documents:runQuery?key=%s",
		c.cfg.FirestoreURL, url.PathEscape(c.cfg.FirebaseProject), url.QueryEscape(c.cfg.FirebaseKey))

	resp, err := c.rq.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "firestore %s", collection)
	}

	var rows []struct {
		Document *struct {
			Name   string           `json:"name"`
			Fields map[string]value `json:"fields"`
		} `json:"document"`
	}
	if err := resp.DecodeJSON(&rows); err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		if r.Document == nil {
			continue
		}
		fields := make(map[string]string, len(r.Document.Fields))
		for k, v := range r.Document.Fields {
			fields[k] = v.String()
		}
		out = append(out, fields)
	}
	return out, nil
}
