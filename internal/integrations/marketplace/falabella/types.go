package falabella

import (
	"bytes"
	"encoding/json"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/pkg/errors"
)

type fs = marketplace.FlexString

type Address struct {
	FirstName     fs `json:"FirstName"`
	LastName      fs `json:"LastName"`
	Phone         fs `json:"Phone"`
	Address1      fs `json:"Address1"`
	Address2      fs `json:"Address2"`
	Address3      fs `json:"Address3"`
	City          fs `json:"City"`
	Ward          fs `json:"Ward"`
	Region        fs `json:"Region"`
	PostCode      fs `json:"PostCode"`
	Country       fs `json:"Country"`
	CustomerEmail fs `json:"CustomerEmail"`
}

type Warehouse struct {
	SellerWarehouseID fs `json:"SellerWarehouseId"`
	FacilityID        fs `json:"FacilityId"`
}

type Statuses struct {
	Status marketplace.FlexList[string] `json:"Status"`
}

type Order struct {
	OrderID                    fs         `json:"OrderId"`
	OrderNumber                fs         `json:"OrderNumber"`
	CustomerFirstName          fs         `json:"CustomerFirstName"`
	CustomerLastName           fs         `json:"CustomerLastName"`
	NationalRegistrationNumber fs         `json:"NationalRegistrationNumber"`
	PaymentMethod              fs         `json:"PaymentMethod"`
	Price                      fs         `json:"Price"`
	GrandTotal                 fs         `json:"GrandTotal"`
	ShippingFeeTotal           fs         `json:"ShippingFeeTotal"`
	CreatedAt                  fs         `json:"CreatedAt"`
	UpdatedAt                  fs         `json:"UpdatedAt"`
	ShippingType               fs         `json:"ShippingType"`
	AddressBilling             *Address   `json:"AddressBilling"`
	AddressShipping            *Address   `json:"AddressShipping"`
	Statuses                   *Statuses  `json:"Statuses"`
	Warehouse                  *Warehouse `json:"Warehouse"`
}

type OrderItem struct {
	OrderItemID          fs `json:"OrderItemId"`
	OrderID              fs `json:"OrderId"`
	ShopSKU              fs `json:"ShopSku"`
	SKU                  fs `json:"Sku"`
	Name                 fs `json:"Name"`
	Variation            fs `json:"Variation"`
	Currency             fs `json:"Currency"`
	ItemPrice            fs `json:"ItemPrice"`
	PaidPrice            fs `json:"PaidPrice"`
	PackageID            fs `json:"PackageId"`
	TrackingCode         fs `json:"TrackingCode"`
	TrackingCodePre      fs `json:"TrackingCodePre"`
	PromisedShippingTime fs `json:"PromisedShippingTime"`
	Status               fs `json:"Status"`
}

type orderItems struct {
	OrderID    fs `json:"OrderId"`
	OrderItems *struct {
		OrderItem marketplace.FlexList[OrderItem] `json:"OrderItem"`
	} `json:"OrderItems"`
}

// orderList decodes Body.Orders in either of its shapes:
// [{"Order":{..}}, ..] or {"Order":[..]} / {"Order":{..}}.
type orderList[T any] []T

func (l *orderList[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var wrapped []struct {
			Order *T `json:"Order"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return errors.Wrap(err, "orders list")
		}
		out := make([]T, 0, len(wrapped))
		for _, w := range wrapped {
			if w.Order != nil {
				out = append(out, *w.Order)
			}
		}
		*l = out
		return nil
	}
	var obj struct {
		Order marketplace.FlexList[T] `json:"Order"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.Wrap(err, "orders object")
	}
	*l = orderList[T](obj.Order)
	return nil
}

type errorHead struct {
	RequestAction fs `json:"RequestAction"`
	ErrorType     fs `json:"ErrorType"`
	ErrorCode     fs `json:"ErrorCode"`
	ErrorMessage  fs `json:"ErrorMessage"`
}

type envelope struct {
	SuccessResponse *struct {
		Head struct {
			RequestID  fs `json:"RequestId"`
			TotalCount fs `json:"TotalCount"`
		} `json:"Head"`
		Body json.RawMessage `json:"Body"`
	} `json:"SuccessResponse"`
	ErrorResponse *struct {
		Head errorHead `json:"Head"`
	} `json:"ErrorResponse"`
}

// APIError is an ErrorResponse body, which Falabella may send with a 200.
type APIError struct {
	Action  string
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Type
	}
	return "falabella " + e.Action + ": " + msg + " (code " + e.Code + ")"
}

// OrdersPage is one GetOrders page.
type OrdersPage struct {
	Orders     []Order
	TotalCount int
}

// Document is a decoded GetDocument file.
type Document struct {
	MimeType string
	Data     []byte
}

type WebhookResult struct {
	WebhookID string
	Body      json.RawMessage
}
