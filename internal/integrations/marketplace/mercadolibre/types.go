package mercadolibre

import (
	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID          int64           `json:"id"`
	PackID      *int64          `json:"pack_id"`
	Status      string          `json:"status"`
	DateCreated string          `json:"date_created"`
	DateClosed  string          `json:"date_closed"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	CurrencyID  string          `json:"currency_id"`
	Buyer       Buyer           `json:"buyer"`
	Shipping    *ShippingRef    `json:"shipping"`
	OrderItems  []OrderItem     `json:"order_items"`
	Payments    []Payment       `json:"payments"`
	Tags        []string        `json:"tags"`
}

type Buyer struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type ShippingRef struct {
	ID *int64 `json:"id"`
}

type OrderItem struct {
	Item          ItemInfo        `json:"item"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	FullUnitPrice decimal.Decimal `json:"full_unit_price"`
	CurrencyID    string          `json:"currency_id"`
	Stock         *Stock          `json:"stock"`
}

type ItemInfo struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title"`
	SellerSKU           string               `json:"seller_sku"`
	VariationAttributes []VariationAttribute `json:"variation_attributes"`
}

type VariationAttribute struct {
	Name      string `json:"name"`
	ValueName string `json:"value_name"`
}

type Stock struct {
	StoreID marketplace.FlexString `json:"store_id"`
}

type Payment struct {
	PaymentMethodID string          `json:"payment_method_id"`
	Status          string          `json:"status"`
	Installments    int             `json:"installments"`
	TotalPaidAmount decimal.Decimal `json:"total_paid_amount"`
	DateApproved    string          `json:"date_approved"`
}

type OrdersPage struct {
	Results []Order `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
}

type Shipment struct {
	ID              int64            `json:"id"`
	Status          string           `json:"status"`
	Substatus       string           `json:"substatus"`
	LogisticType    string           `json:"logistic_type"`
	ReceiverAddress *ReceiverAddress `json:"receiver_address"`
}

type Named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ReceiverAddress struct {
	StreetName    string   `json:"street_name"`
	StreetNumber  string   `json:"street_number"`
	Comment       string   `json:"comment"`
	Neighborhood  *Named   `json:"neighborhood"`
	City          *Named   `json:"city"`
	State         *Named   `json:"state"`
	Country       *Named   `json:"country"`
	CountryID     string   `json:"country_id"`
	ZipCode       string   `json:"zip_code"`
	ReceiverName  string   `json:"receiver_name"`
	ReceiverPhone string   `json:"receiver_phone"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

// Notification is the body ML posts to the webhook.
type Notification struct {
	Resource      string                 `json:"resource"`
	UserID        marketplace.FlexString `json:"user_id"`
	Topic         string                 `json:"topic"`
	ApplicationID marketplace.FlexString `json:"application_id"`
	Attempts      int                    `json:"attempts"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
