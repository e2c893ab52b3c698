package normalize

import (
	"strings"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace/wix"
	"github.com/BearBump/OrderBox/internal/models"
)

func wixStatus(o wix.Order) models.Status {
	if strings.EqualFold(o.Status, "CANCELED") {
		return models.StatusCancelado
	}
	var mapped []models.Status
	switch strings.ToUpper(o.FulfillmentStatus) {
	case "FULFILLED":
		mapped = append(mapped, models.StatusEnviado)
	case "PARTIALLY_FULFILLED":
		mapped = append(mapped, models.StatusPreparando)
	default:
		mapped = append(mapped, models.StatusNuevo)
	}
	return models.Collapse(mapped)
}

func money(m *wix.Money) string {
	if m == nil {
		return ""
	}
	return m.Amount.String()
}

func wixCedula(fields []wix.CustomField) string {
	for _, f := range fields {
		t := strings.ToLower(f.Title)
		if strings.Contains(t, "cédula") || strings.Contains(t, "cedula") {
			return strings.TrimSpace(f.Value.String())
		}
	}
	return ""
}

func wixAddress(o wix.Order) *models.ShippingAddress {
	var addr *wix.Address
	var contact *wix.ContactDetails
	if o.ShippingInfo != nil && o.ShippingInfo.Logistics != nil && o.ShippingInfo.Logistics.ShippingDestination != nil {
		addr = o.ShippingInfo.Logistics.ShippingDestination.Address
		contact = o.ShippingInfo.Logistics.ShippingDestination.ContactDetails
	}
	if o.RecipientInfo != nil {
		if addr == nil {
			addr = o.RecipientInfo.Address
		}
		if contact == nil {
			contact = o.RecipientInfo.ContactDetails
		}
	}
	if addr == nil {
		return nil
	}

	out := &models.ShippingAddress{
		Street:  joinNonEmpty(", ", addr.AddressLine, addr.AddressLine2),
		City:    addr.City,
		State:   firstNonEmpty(addr.SubdivisionFullname, addr.Subdivision),
		Country: firstNonEmpty(addr.CountryFullname, addr.Country),
		ZipCode: addr.PostalCode,
	}
	if contact != nil {
		out.ReceiverName = strings.TrimSpace(contact.FirstName + " " + contact.LastName)
		out.ReceiverPhone = contact.Phone
	}
	return out
}

func Wix(r WixRaw) models.Order {
	o := r.Order
	created, ok := parseRFC3339(o.Created())
	if !ok {
		created, _ = parseRFC3339(o.Updated())
	}
	total := ParseAmount(money(o.PriceSummary.Total))

	out := models.Order{
		OrderID:     o.Number,
		Channel:     models.ChannelWix,
		Status:      wixStatus(o),
		OrderDate:   created,
		ClosedDate:  timePtr(parseRFC3339(o.Updated())),
		TotalAmount: total,
		PaidAmount:  total,
		Currency:    o.Currency,
		Customer: models.Customer{
			Source: models.ChannelWix,
			ID:     firstNonEmpty(o.BuyerInfo.ContactID, o.BuyerInfo.ID),
			Email:  o.BuyerInfo.Email,
			Cedula: wixCedula(o.CustomFields),
		},
		ShippingAddress: wixAddress(o),
		Items:           make([]models.Item, 0, len(o.LineItems)),
		PaymentInfo:     &models.PaymentInfo{Status: o.PaymentStatus},
		Tags:            []string{},
		Notes:           models.StringPtr(strings.TrimSpace(o.BuyerNote)),
	}
	if b := o.BillingInfo; b != nil && b.ContactDetails != nil {
		out.Customer.FirstName = b.ContactDetails.FirstName
		out.Customer.LastName = b.ContactDetails.LastName
		out.Customer.Phone = b.ContactDetails.Phone
	}
	if o.ShippingInfo != nil {
		out.PaymentInfo.ShippingMethod = o.ShippingInfo.Title
	}

	for _, li := range o.LineItems {
		var physicalSKU, translated, original, image string
		if li.PhysicalProperties != nil {
			physicalSKU = li.PhysicalProperties.SKU
		}
		if li.ProductName != nil {
			translated, original = li.ProductName.Translated, li.ProductName.Original
		}
		if li.Image != nil {
			image = li.Image.URL
		}
		unit := ParseAmount(money(li.Price))
		full := unit
		if s := firstNonEmpty(money(li.TotalPriceAfterTax), money(li.TotalPrice)); s != "" {
			full = ParseAmount(s)
		}
		out.Items = append(out.Items, models.Item{
			SKU:                 firstNonEmpty(physicalSKU, li.SKU, li.ID),
			Title:               firstNonEmpty(translated, original, unnamed),
			Quantity:            li.Quantity,
			UnitPrice:           unit,
			FullPrice:           full,
			Currency:            o.Currency,
			ImageURL:            image,
			VariationAttributes: []models.VariationAttribute{},
		})
	}
	return out
}
