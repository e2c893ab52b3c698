package wix

import "github.com/BearBump/OrderBox/internal/integrations/marketplace"

type Money struct {
	Amount marketplace.FlexString `json:"amount"`
}

type Order struct {
	ID                string        `json:"id"`
	Number            string        `json:"number"`
	CreatedDate       string        `json:"createdDate"`
	LegacyCreatedDate string        `json:"_createdDate"`
	UpdatedDate       string        `json:"updatedDate"`
	LegacyUpdatedDate string        `json:"_updatedDate"`
	Status            string        `json:"status"`
	Currency          string        `json:"currency"`
	PaymentStatus     string        `json:"paymentStatus"`
	FulfillmentStatus string        `json:"fulfillmentStatus"`
	BuyerNote         string        `json:"buyerNote"`
	BuyerInfo         BuyerInfo     `json:"buyerInfo"`
	BillingInfo       *ContactInfo  `json:"billingInfo"`
	ShippingInfo      *ShippingInfo `json:"shippingInfo"`
	RecipientInfo     *ContactInfo  `json:"recipientInfo"`
	LineItems         []LineItem    `json:"lineItems"`
	PriceSummary      PriceSummary  `json:"priceSummary"`
	CustomFields      []CustomField `json:"customFields"`
}

// Created prefers the v1 field and falls back to the legacy one.
func (o *Order) Created() string {
	if o.CreatedDate != "" {
		return o.CreatedDate
	}
	return o.LegacyCreatedDate
}

func (o *Order) Updated() string {
	if o.UpdatedDate != "" {
		return o.UpdatedDate
	}
	return o.LegacyUpdatedDate
}

type BuyerInfo struct {
	ID        string `json:"id"`
	ContactID string `json:"contactId"`
	Email     string `json:"email"`
}

type ContactDetails struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type Address struct {
	AddressLine         string `json:"addressLine"`
	AddressLine2        string `json:"addressLine2"`
	City                string `json:"city"`
	SubdivisionFullname string `json:"subdivisionFullname"`
	Subdivision         string `json:"subdivision"`
	CountryFullname     string `json:"countryFullname"`
	Country             string `json:"country"`
	PostalCode          string `json:"postalCode"`
}

type ContactInfo struct {
	Address        *Address        `json:"address"`
	ContactDetails *ContactDetails `json:"contactDetails"`
}

type ShippingInfo struct {
	Title     string `json:"title"`
	Logistics *struct {
		ShippingDestination *ContactInfo `json:"shippingDestination"`
	} `json:"logistics"`
}

type ProductName struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

type LineItem struct {
	ID                 string       `json:"id"`
	SKU                string       `json:"sku"`
	ProductName        *ProductName `json:"productName"`
	Quantity           int          `json:"quantity"`
	Price              *Money       `json:"price"`
	TotalPriceAfterTax *Money       `json:"totalPriceAfterTax"`
	TotalPrice         *Money       `json:"totalPrice"`
	Image              *struct {
		URL string `json:"url"`
	} `json:"image"`
	PhysicalProperties *struct {
		SKU string `json:"sku"`
	} `json:"physicalProperties"`
}

type PriceSummary struct {
	Subtotal *Money `json:"subtotal"`
	Shipping *Money `json:"shipping"`
	Tax      *Money `json:"tax"`
	Total    *Money `json:"total"`
}

type CustomField struct {
	Title string                 `json:"title"`
	Value marketplace.FlexString `json:"value"`
}

type cursors struct {
	Cursors struct {
		Next string `json:"next"`
	} `json:"cursors"`
}

type searchResponse struct {
	Orders         []Order  `json:"orders"`
	Metadata       *cursors `json:"metadata"`
	PagingMetadata *cursors `json:"pagingMetadata"`
}

// NextCursor reads metadata first, then pagingMetadata.
func (r *searchResponse) NextCursor() string {
	if r.Metadata != nil && r.Metadata.Cursors.Next != "" {
		return r.Metadata.Cursors.Next
	}
	if r.PagingMetadata != nil {
		return r.PagingMetadata.Cursors.Next
	}
	return ""
}

type cursorPaging struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type sortField struct {
	FieldName string `json:"fieldName"`
	Order     string `json:"order"`
}

type searchRequest struct {
	Search struct {
		CursorPaging cursorPaging      `json:"cursorPaging"`
		Filter       map[string]string `json:"filter"`
		Sort         []sortField       `json:"sort"`
	} `json:"search"`
}

// Page is one cursor page of orders.
type Page struct {
	Orders     []Order
	NextCursor string
}
