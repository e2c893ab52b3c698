package normalize

import (
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/models"
)

const falabellaDateLayout = "2006-01-02 15:04:05"

// FalabellaItemStatus maps one seller-center item status.
func FalabellaItemStatus(s string) models.Status {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "pending":
		return models.StatusNuevo
	case lower == "ready_to_ship":
		return models.StatusPreparando
	case lower == "shipped":
		return models.StatusEnviado
	case lower == "delivered":
		return models.StatusEntregado
	case lower == "failed", lower == "canceled", strings.HasPrefix(lower, "return_"):
		return models.StatusCancelado
	}
	return models.StatusNuevo
}

func FalabellaStatus(statuses []string) models.Status {
	mapped := make([]models.Status, 0, len(statuses))
	for _, s := range statuses {
		mapped = append(mapped, FalabellaItemStatus(s))
	}
	return models.Collapse(mapped)
}

// parseFalabellaDate reads "YYYY-MM-DD HH:MM:SS" as UTC.
func parseFalabellaDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(falabellaDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func falabellaLogisticType(shippingType string) *string {
	switch strings.TrimSpace(shippingType) {
	case "Dropshipping":
		return models.StringPtr("dropshipping")
	case "Own Warehouse":
		return models.StringPtr("own_warehouse")
	}
	return nil
}

func Falabella(r FalabellaRaw) models.Order {
	o := r.Order
	statuses := []string{"pending"}
	if o.Statuses != nil && len(o.Statuses.Status) > 0 {
		statuses = o.Statuses.Status
	}

	// Missing CreatedAt falls back to UpdatedAt.
	orderDate, ok := parseFalabellaDate(o.CreatedAt.String())
	if !ok {
		orderDate, _ = parseFalabellaDate(o.UpdatedAt.String())
	}

	amount := ParseAmount(firstNonEmpty(o.GrandTotal.String(), o.Price.String()))
	shippingCost := ParseAmount(o.ShippingFeeTotal.String())
	orderID := o.OrderID.String()

	currency := "COP"
	if len(r.Items) > 0 && r.Items[0].Currency.String() != "" {
		currency = r.Items[0].Currency.String()
	}

	ship := o.AddressShipping
	if ship == nil {
		ship = &falabella.Address{}
	}
	bill := o.AddressBilling
	if bill == nil {
		bill = &falabella.Address{}
	}

	out := models.Order{
		OrderID:     orderID,
		Channel:     models.ChannelFalabella,
		Status:      FalabellaStatus(statuses),
		OrderDate:   orderDate,
		TotalAmount: amount,
		PaidAmount:  amount,
		Currency:    currency,
		Customer: models.Customer{
			Source:    models.ChannelFalabella,
			ID:        firstNonEmpty(o.NationalRegistrationNumber.String(), orderID),
			FirstName: strings.TrimSpace(o.CustomerFirstName.String()),
			LastName:  strings.TrimSpace(o.CustomerLastName.String()),
			Email:     strings.TrimSpace(bill.CustomerEmail.String()),
			Phone:     firstNonEmpty(ship.Phone.String(), bill.Phone.String()),
		},
		ShippingAddress: &models.ShippingAddress{
			Street:        joinNonEmpty(", ", ship.Address1.String(), ship.Address2.String(), ship.Address3.String()),
			City:          strings.TrimSpace(ship.City.String()),
			State:         firstNonEmpty(ship.Region.String(), ship.Ward.String()),
			Country:       strings.TrimSpace(ship.Country.String()),
			ZipCode:       strings.TrimSpace(ship.PostCode.String()),
			ReceiverName:  joinNonEmpty(" ", ship.FirstName.String(), ship.LastName.String()),
			ReceiverPhone: strings.TrimSpace(ship.Phone.String()),
		},
		Items: make([]models.Item, 0, len(r.Items)),
		PaymentInfo: &models.PaymentInfo{
			Method:       strings.TrimSpace(o.PaymentMethod.String()),
			Status:       firstNonEmpty(statuses[0], "pending"),
			PaidAmount:   &amount,
			ShippingCost: &shippingCost,
		},
		Tags:         []string{},
		LogisticType: falabellaLogisticType(o.ShippingType.String()),
	}
	if st := strings.TrimSpace(o.ShippingType.String()); st != "" {
		out.Tags = append(out.Tags, st)
	}
	if w := o.Warehouse; w != nil {
		out.StoreID = models.StringPtr(strings.TrimSpace(w.SellerWarehouseID.String()))
		out.StoreName = models.StringPtr(strings.TrimSpace(w.FacilityID.String()))
	}

	for _, it := range r.Items {
		price := ParseAmount(firstNonEmpty(it.PaidPrice.String(), it.ItemPrice.String()))
		out.Items = append(out.Items, models.Item{
			SKU:                 firstNonEmpty(it.SKU.String(), it.ShopSKU.String()),
			Title:               strings.TrimSpace(it.Name.String()),
			Quantity:            1,
			UnitPrice:           price,
			FullPrice:           price,
			Currency:            firstNonEmpty(it.Currency.String(), "COP"),
			OrderItemID:         strings.TrimSpace(it.OrderItemID.String()),
			PackageID:           strings.TrimSpace(it.PackageID.String()),
			TrackingCode:        firstNonEmpty(it.TrackingCode.String(), it.TrackingCodePre.String()),
			VariationAttributes: ParseVariation(it.Variation.String()),
		})
	}
	return out
}
