package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one marketplace order row. (Channel, OrderID) is the natural key.
type Order struct {
	ID         string  `json:"id,omitempty"`
	OrderID    string  `json:"order_id"`
	Channel    Channel `json:"channel"`
	PackID     *string `json:"pack_id"`
	ShippingID *string `json:"shipping_id"`

	LogisticType *string `json:"logistic_type"`
	StoreID      *string `json:"store_id"`
	StoreName    *string `json:"store_name"`

	Status     Status     `json:"status"`
	OrderDate  time.Time  `json:"order_date"`
	ClosedDate *time.Time `json:"closed_date"`

	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Currency    string          `json:"currency"`

	Customer        Customer         `json:"customer"`
	ShippingAddress *ShippingAddress `json:"shipping_address"`
	Items           []Item           `json:"items"`
	PaymentInfo     *PaymentInfo     `json:"payment_info"`
	Tags            []string         `json:"tags"`
	Notes           *string          `json:"notes"`

	// Written by remision/partner workflows only.
	RemisionTBC      *string    `json:"remision_tbc"`
	FechaRemisionTBC *time.Time `json:"fecha_remision_tbc"`
	HalconSerial     *int64     `json:"halcon_serial"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Customer struct {
	Source    Channel `json:"source"`
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname,omitempty"`
	Email     string  `json:"email,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	Cedula    string  `json:"cedula,omitempty"`
}

type ShippingAddress struct {
	Street        string   `json:"street"`
	Comment       string   `json:"comment,omitempty"`
	Neighborhood  string   `json:"neighborhood,omitempty"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	Country       string   `json:"country"`
	ZipCode       string   `json:"zipCode"`
	ReceiverName  string   `json:"receiverName,omitempty"`
	ReceiverPhone string   `json:"receiverPhone,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type VariationAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Item struct {
	SKU                 string               `json:"sku"`
	Title               string               `json:"title"`
	Quantity            int                  `json:"quantity"`
	UnitPrice           decimal.Decimal      `json:"unitPrice"`
	FullPrice           decimal.Decimal      `json:"fullPrice"`
	Currency            string               `json:"currency"`
	ImageURL            string               `json:"imageUrl,omitempty"`
	OrderItemID         string               `json:"orderItemId,omitempty"`
	PackageID           string               `json:"packageId,omitempty"`
	TrackingCode        string               `json:"trackingCode,omitempty"`
	VariationAttributes []VariationAttribute `json:"variationAttributes"`
}

type PaymentInfo struct {
	Method         string           `json:"method,omitempty"`
	Status         string           `json:"status,omitempty"`
	Installments   int              `json:"installments,omitempty"`
	PaidAmount     *decimal.Decimal `json:"paidAmount,omitempty"`
	PaymentDate    string           `json:"paymentDate,omitempty"`
	ShippingCost   *decimal.Decimal `json:"shippingCost,omitempty"`
	ShippingMethod string           `json:"shippingMethod,omitempty"`
}

// OrderKey addresses an order by its natural key.
type OrderKey struct {
	Channel Channel
	OrderID string
}

func (o *Order) Key() OrderKey {
	return OrderKey{Channel: o.Channel, OrderID: o.OrderID}
}

// StatusTransition is a status change applied to a stored row.
// ID is the internal order id.
type StatusTransition struct {
	ID        string
	Key       OrderKey
	OldStatus Status
	NewStatus Status
	EventID   string
	At        time.Time
}

// Event is the status_changed feed entry for t.
func (t StatusTransition) Event(actor string) OrderEvent {
	old := string(t.OldStatus)
	next := string(t.NewStatus)
	return OrderEvent{
		ID:        t.EventID,
		OrderID:   t.ID,
		EventType: EventStatusChanged,
		OldValue:  &old,
		NewValue:  &next,
		Actor:     actor,
		CreatedAt: t.At,
	}
}

type OrderFilter struct {
	Status  *Status
	Channel *Channel
	Stores  []string
	Search  string
	Limit   int
	Offset  int
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
