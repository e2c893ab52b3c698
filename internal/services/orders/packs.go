package orders

import "github.com/BearBump/OrderBox/internal/models"

// GroupIntoPacks merges rows sharing a pack_id into one view, keeping the
// order in which each pack first appears. Rows without pack_id stay single.
func GroupIntoPacks(rows []models.Order) []models.PackView {
	out := make([]models.PackView, 0, len(rows))
	byPack := make(map[string]int, len(rows))

	for _, o := range rows {
		if o.PackID != nil && *o.PackID != "" {
			if i, ok := byPack[*o.PackID]; ok {
				addToPack(&out[i], o)
				continue
			}
			byPack[*o.PackID] = len(out)
		}
		out = append(out, newPack(o))
	}

	for i := range out {
		if len(out[i].SubOrders) > 1 {
			statuses := make([]models.Status, 0, len(out[i].SubOrders))
			for _, o := range out[i].SubOrders {
				statuses = append(statuses, o.Status)
			}
			out[i].Status = models.Collapse(statuses)
		}
	}
	return out
}

func newPack(o models.Order) models.PackView {
	items := make([]models.Item, 0, len(o.Items))
	items = append(items, o.Items...)
	return models.PackView{
		PackID:          o.PackID,
		Channel:         o.Channel,
		OrderID:         o.OrderID,
		Status:          o.Status,
		OrderDate:       o.OrderDate,
		TotalAmount:     o.TotalAmount,
		PaidAmount:      o.PaidAmount,
		Currency:        o.Currency,
		Customer:        o.Customer,
		ShippingID:      o.ShippingID,
		ShippingAddress: o.ShippingAddress,
		LogisticType:    o.LogisticType,
		Items:           items,
		SubOrders:       []models.Order{o},
	}
}

func addToPack(p *models.PackView, o models.Order) {
	p.TotalAmount = p.TotalAmount.Add(o.TotalAmount)
	p.PaidAmount = p.PaidAmount.Add(o.PaidAmount)
	p.Items = append(p.Items, o.Items...)
	p.SubOrders = append(p.SubOrders, o)
	if p.ShippingAddress == nil {
		p.ShippingAddress = o.ShippingAddress
	}
	if p.LogisticType == nil {
		p.LogisticType = o.LogisticType
	}
}
