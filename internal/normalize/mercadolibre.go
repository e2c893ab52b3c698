package normalize

import (
	"strconv"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
)

// MercadoLibreStatus derives the canonical status from the order and its
// shipment. A cancelled order wins over whatever the shipment says.
func MercadoLibreStatus(orderStatus string, sh *mercadolibre.Shipment) models.Status {
	if orderStatus == "cancelled" {
		return models.StatusCancelado
	}
	if sh == nil {
		return models.StatusNuevo
	}
	switch sh.Status {
	case "delivered":
		return models.StatusEntregado
	case "shipped":
		return models.StatusEnviado
	case "cancelled", "returned":
		return models.StatusCancelado
	case "handling":
		return models.StatusPreparando
	case "ready_to_ship":
		if sh.Substatus == "ready_to_print" {
			return models.StatusNuevo
		}
		return models.StatusPreparando
	}
	return models.StatusNuevo
}

func (n *Normalizer) MercadoLibre(r MercadoLibreRaw) models.Order {
	o := r.Order
	created, _ := parseRFC3339(o.DateCreated)

	out := models.Order{
		OrderID:     strconv.FormatInt(o.ID, 10),
		Channel:     models.ChannelMercadoLibre,
		Status:      MercadoLibreStatus(o.Status, r.Shipment),
		OrderDate:   created,
		ClosedDate:  timePtr(parseRFC3339(o.DateClosed)),
		TotalAmount: o.TotalAmount,
		PaidAmount:  o.PaidAmount,
		Currency:    o.CurrencyID,
		Customer: models.Customer{
			Source:    models.ChannelMercadoLibre,
			ID:        strconv.FormatInt(o.Buyer.ID, 10),
			Nickname:  o.Buyer.Nickname,
			FirstName: o.Buyer.FirstName,
			LastName:  o.Buyer.LastName,
		},
		Items: make([]models.Item, 0, len(o.OrderItems)),
		Tags:  []string{},
	}
	if o.PackID != nil {
		out.PackID = models.StringPtr(strconv.FormatInt(*o.PackID, 10))
	}
	if o.Shipping != nil && o.Shipping.ID != nil {
		out.ShippingID = models.StringPtr(strconv.FormatInt(*o.Shipping.ID, 10))
	}
	if o.Tags != nil {
		out.Tags = append(out.Tags, o.Tags...)
	}

	for _, it := range o.OrderItems {
		attrs := make([]models.VariationAttribute, 0, len(it.Item.VariationAttributes))
		for _, a := range it.Item.VariationAttributes {
			attrs = append(attrs, models.VariationAttribute{Name: a.Name, Value: a.ValueName})
		}
		out.Items = append(out.Items, models.Item{
			SKU:                 it.Item.SellerSKU,
			Title:               it.Item.Title,
			Quantity:            it.Quantity,
			UnitPrice:           it.UnitPrice,
			FullPrice:           it.FullUnitPrice,
			Currency:            it.CurrencyID,
			VariationAttributes: attrs,
		})
	}

	if len(o.Payments) > 0 {
		p := o.Payments[0]
		paid := p.TotalPaidAmount
		out.PaymentInfo = &models.PaymentInfo{
			Method:       p.PaymentMethodID,
			Status:       p.Status,
			Installments: p.Installments,
			PaidAmount:   &paid,
			PaymentDate:  p.DateApproved,
		}
	}

	if sid := MercadoLibreStoreID(o); sid != "" {
		out.StoreID = &sid
		out.StoreName = n.StoreName(sid)
	}

	if sh := r.Shipment; sh != nil {
		out.LogisticType = models.StringPtr(sh.LogisticType)
		out.ShippingAddress = mercadoLibreAddress(sh.ReceiverAddress)
	}
	return out
}

// MercadoLibreStoreID is order_items[0].stock.store_id, empty when absent.
func MercadoLibreStoreID(o mercadolibre.Order) string {
	if len(o.OrderItems) == 0 || o.OrderItems[0].Stock == nil {
		return ""
	}
	return o.OrderItems[0].Stock.StoreID.String()
}

func mercadoLibreAddress(a *mercadolibre.ReceiverAddress) *models.ShippingAddress {
	if a == nil {
		return nil
	}
	name := func(n *mercadolibre.Named) string {
		if n == nil {
			return ""
		}
		return n.Name
	}
	country := name(a.Country)
	if country == "" {
		country = a.CountryID
	}
	return &models.ShippingAddress{
		Street:        joinNonEmpty(" ", a.StreetName, a.StreetNumber),
		Comment:       a.Comment,
		Neighborhood:  name(a.Neighborhood),
		City:          name(a.City),
		State:         name(a.State),
		Country:       country,
		ZipCode:       a.ZipCode,
		ReceiverName:  a.ReceiverName,
		ReceiverPhone: a.ReceiverPhone,
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
	}
}
