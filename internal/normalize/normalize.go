// Package normalize maps raw marketplace payloads to models.Order.
// Everything here is pure: no clock, no I/O.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/wix"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const unnamed = "Sin nombre"

// ErrUndated is returned for an order with no parsable creation or update date.
var ErrUndated = errors.New("order has no parsable date")

// Raw is a fetched marketplace order. The set of variants is closed.
type Raw interface {
	Channel() models.Channel
	sealed()
}

type MercadoLibreRaw struct {
	Order    mercadolibre.Order
	Shipment *mercadolibre.Shipment
}

type WixRaw struct {
	Order wix.Order
}

type FalabellaRaw struct {
	Order falabella.Order
	Items []falabella.OrderItem
}

func (MercadoLibreRaw) Channel() models.Channel { return models.ChannelMercadoLibre }
func (WixRaw) Channel() models.Channel          { return models.ChannelWix }
func (FalabellaRaw) Channel() models.Channel    { return models.ChannelFalabella }

func (MercadoLibreRaw) sealed() {}
func (WixRaw) sealed()          {}
func (FalabellaRaw) sealed()    {}

// DefaultStoreNames maps ML warehouse ids to branch names.
var DefaultStoreNames = map[string]string{
	"76644462": "MEDELLÍN",
	"71348293": "AVENIDA 19",
	"71843625": "CEDI",
	"71348291": "BULEVAR",
}

type Normalizer struct {
	storeNames map[string]string
}

// New builds a Normalizer. A nil store map uses DefaultStoreNames.
func New(storeNames map[string]string) *Normalizer {
	if storeNames == nil {
		storeNames = DefaultStoreNames
	}
	return &Normalizer{storeNames: storeNames}
}

// Normalize maps raw to an order. An order without a usable date is rejected
// with ErrUndated rather than stored at the zero time.
func (n *Normalizer) Normalize(raw Raw) (models.Order, error) {
	var o models.Order
	switch r := raw.(type) {
	case MercadoLibreRaw:
		o = n.MercadoLibre(r)
	case *MercadoLibreRaw:
		o = n.MercadoLibre(*r)
	case WixRaw:
		o = Wix(r)
	case *WixRaw:
		o = Wix(*r)
	case FalabellaRaw:
		o = Falabella(r)
	case *FalabellaRaw:
		o = Falabella(*r)
	default:
		return models.Order{}, errors.Errorf("normalize: unknown raw variant %T", raw)
	}
	if o.OrderDate.IsZero() {
		return models.Order{}, errors.Wrapf(ErrUndated, "%s order %s", o.Channel, o.OrderID)
	}
	return o, nil
}

// StoreName looks up a branch name for an ML store id.
func (n *Normalizer) StoreName(storeID string) *string {
	if name, ok := n.storeNames[storeID]; ok {
		return &name
	}
	return nil
}

// ParseAmount reads marketplace money strings like "1,250.00". Anything
// unparsable is zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RecipientName picks the best display name for whoever receives the parcel.
func RecipientName(o models.Order) string {
	if o.ShippingAddress != nil && strings.TrimSpace(o.ShippingAddress.ReceiverName) != "" {
		return strings.TrimSpace(o.ShippingAddress.ReceiverName)
	}
	c := o.Customer
	if c.FirstName != "" && c.LastName != "" {
		return c.FirstName + " " + c.LastName
	}
	if c.Nickname != "" {
		return c.Nickname
	}
	if c.Email != "" {
		return c.Email
	}
	return unnamed
}

// ParseVariation decodes a JSON object of variation attributes, keeping key
// order. Values that are objects contribute their "name". Malformed input
// yields an empty list.
func ParseVariation(s string) []models.VariationAttribute {
	out := []models.VariationAttribute{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return []models.VariationAttribute{}
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return []models.VariationAttribute{}
		}
		name, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return []models.VariationAttribute{}
		}
		val, ok := variationValue(raw)
		if !ok {
			return []models.VariationAttribute{}
		}
		out = append(out, models.VariationAttribute{Name: name, Value: val})
	}
	return out
}

func variationValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return "", false
	case raw[0] == '{':
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		return obj.Name, true
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}

func parseRFC3339(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func timePtr(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
