package orders

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/shopspring/decimal"
)

// vipShare is the fraction of customers, by LTV, flagged as VIP.
const vipShare = 0.2

type CustomersReport struct {
	Customers []models.CustomerView  `json:"customers"`
	Summary   models.CustomerSummary `json:"summary"`
}

// Customers aggregates every order matching f by buyer. Paging in f is ignored.
func (s *Service) Customers(ctx context.Context, f models.OrderFilter) (CustomersReport, error) {
	rows, err := s.repo.ListCustomerOrders(ctx, f)
	if err != nil {
		return CustomersReport{}, err
	}
	list, sum := BuildCustomers(rows)
	return CustomersReport{Customers: list, Summary: sum}, nil
}

// CustomerKey identifies a buyer across orders: the ML user id, or the
// lowercased email (else customer id) on the other channels.
func CustomerKey(c models.Customer) string {
	if c.Source == models.ChannelMercadoLibre {
		return "ml:" + c.ID
	}
	id := c.Email
	if id == "" {
		id = c.ID
	}
	return string(c.Source) + ":" + strings.ToLower(id)
}

func displayName(c models.Customer) string {
	if c.Source == models.ChannelMercadoLibre {
		if c.Nickname != "" {
			return c.Nickname
		}
		return "ML-" + c.ID
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	if c.Email != "" {
		return c.Email
	}
	return c.ID
}

// purchaseKey folds ML pack siblings into one purchase.
func purchaseKey(o models.Order) string {
	if o.Channel == models.ChannelMercadoLibre && o.PackID != nil && *o.PackID != "" {
		return "pack:" + *o.PackID
	}
	return string(o.Channel) + ":" + o.OrderID
}

type customerAcc struct {
	view      models.CustomerView
	purchases map[string]struct{}
	products  tally
	cities    tally
}

// BuildCustomers groups rows by CustomerKey. The result is sorted by LTV,
// highest first, and the top fifth (at least one) is flagged VIP.
func BuildCustomers(rows []models.Order) ([]models.CustomerView, models.CustomerSummary) {
	byKey := make(map[string]*customerAcc)
	var keys []string

	for _, o := range rows {
		key := CustomerKey(o.Customer)
		acc, ok := byKey[key]
		if !ok {
			c := o.Customer
			acc = &customerAcc{
				view: models.CustomerView{
					Key:         key,
					Source:      c.Source,
					DisplayName: displayName(c),
					Email:       c.Email,
					Phone:       c.Phone,
					Cedula:      c.Cedula,
					FirstOrder:  o.OrderDate,
					LastOrder:   o.OrderDate,
				},
				purchases: make(map[string]struct{}),
			}
			byKey[key] = acc
			keys = append(keys, key)
		}

		v := &acc.view
		v.LTV = v.LTV.Add(o.TotalAmount)
		if o.OrderDate.Before(v.FirstOrder) {
			v.FirstOrder = o.OrderDate
		}
		if o.OrderDate.After(v.LastOrder) {
			v.LastOrder = o.OrderDate
		}
		acc.purchases[purchaseKey(o)] = struct{}{}
		for _, it := range o.Items {
			acc.products.add(it.Title, it.Quantity)
		}
		if o.ShippingAddress != nil && o.ShippingAddress.City != "" {
			acc.cities.add(o.ShippingAddress.City, 1)
		}
	}

	out := make([]models.CustomerView, 0, len(keys))
	for _, key := range keys {
		acc := byKey[key]
		v := acc.view
		v.OrderCount = len(acc.purchases)
		v.AvgTicket = v.LTV.DivRound(decimal.NewFromInt(int64(v.OrderCount)), 2)
		v.IsRepeat = v.OrderCount > 1
		v.TopProduct = acc.products.top()
		v.City = acc.cities.top()
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].LTV.Cmp(out[j].LTV); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})

	sum := models.CustomerSummary{TotalCustomers: len(out)}
	if len(out) == 0 {
		return out, sum
	}
	vips := max(1, int(math.Ceil(float64(len(out))*vipShare)))
	total := decimal.Zero
	for i := range out {
		out[i].IsVIP = i < vips
		if out[i].IsRepeat {
			sum.RepeatCustomers++
		}
		total = total.Add(out[i].LTV)
	}
	n := decimal.NewFromInt(int64(len(out)))
	sum.VIPCount = vips
	sum.RetentionRate = decimal.NewFromInt(int64(sum.RepeatCustomers*100)).DivRound(n, 2)
	sum.AvgLTV = total.DivRound(n, 2)
	return out, sum
}

// tally counts values and remembers which came first on ties.
type tally struct {
	order  []string
	counts map[string]int
}

func (t *tally) add(v string, n int) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, ok := t.counts[v]; !ok {
		t.order = append(t.order, v)
	}
	t.counts[v] += n
}

func (t *tally) top() string {
	best, most := "", 0
	for _, v := range t.order {
		if t.counts[v] > most {
			best, most = v, t.counts[v]
		}
	}
	return best
}
