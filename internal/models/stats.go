package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStats counts the orders placed since Since. Total honors the status
// filter, the per-status and per-channel counts do not.
type OrderStats struct {
	Since     time.Time       `json:"since"`
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"by_status"`
	ByChannel map[Channel]int `json:"by_channel"`
}

// StatusChannelCount is one row of the grouped stats query.
type StatusChannelCount struct {
	Status  Status
	Channel Channel
	Count   int
}

// CustomerView aggregates every order of one buyer.
// A pack counts as a single purchase.
type CustomerView struct {
	Key         string          `json:"key"`
	Source      Channel         `json:"source"`
	DisplayName string          `json:"display_name"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Cedula      string          `json:"cedula,omitempty"`
	OrderCount  int             `json:"order_count"`
	LTV         decimal.Decimal `json:"ltv"`
	AvgTicket   decimal.Decimal `json:"avg_ticket"`
	FirstOrder  time.Time       `json:"first_order"`
	LastOrder   time.Time       `json:"last_order"`
	TopProduct  string          `json:"top_product,omitempty"`
	City        string          `json:"city,omitempty"`
	IsRepeat    bool            `json:"is_repeat"`
	IsVIP       bool            `json:"is_vip"`
}

type CustomerSummary struct {
	TotalCustomers  int             `json:"total_customers"`
	RepeatCustomers int             `json:"repeat_customers"`
	RetentionRate   decimal.Decimal `json:"retention_rate"`
	VIPCount        int             `json:"vip_count"`
	AvgLTV          decimal.Decimal `json:"avg_ltv"`
}
