package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PackView is the read-time merge of sibling rows sharing a pack_id.
// A row without pack_id is a pack of one.
type PackView struct {
	PackID      *string         `json:"pack_id"`
	Channel     Channel         `json:"channel"`
	OrderID     string          `json:"order_id"`
	Status      Status          `json:"status"`
	OrderDate   time.Time       `json:"order_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Currency    string          `json:"currency"`
	Customer    Customer        `json:"customer"`

	ShippingID      *string          `json:"shipping_id"`
	ShippingAddress *ShippingAddress `json:"shipping_address"`
	LogisticType    *string          `json:"logistic_type"`

	Items     []Item  `json:"items"`
	SubOrders []Order `json:"subOrders,omitempty"`
}

func (p PackView) IsPack() bool { return len(p.SubOrders) > 1 }
