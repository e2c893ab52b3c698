// Package partner hands eligible orders over to the delivery partner.
package partner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/OrderBox/internal/integrations/partner/halcon"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/pkg/errors"
)

const actor = "halcon"

var ErrNotEligible = errors.New("order is not eligible for the partner")

type Repository interface {
	GetOrder(ctx context.Context, id string) (models.Order, error)
	SetHalconSerial(ctx context.Context, id string, serial int64, actor string) (models.OrderEvent, error)
}

type Pusher interface {
	Push(ctx context.Context, p halcon.Pedido) (halcon.PushResult, error)
}

// Invalidator drops cached copies of orders after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string)
}

type Service struct {
	repo   Repository
	pusher Pusher
	policy Policy
	cache  Invalidator
}

func New(repo Repository, pusher Pusher, policy Policy) *Service {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	return &Service{repo: repo, pusher: pusher, policy: policy}
}

func (s *Service) WithInvalidator(c Invalidator) *Service {
	s.cache = c
	return s
}

// BuildPedido maps an order to the partner's shape.
func BuildPedido(o models.Order) halcon.Pedido {
	origen := string(o.Channel)
	prefix := "ML-"
	if o.Channel == models.ChannelWix {
		prefix = "WIX-"
	}

	var celular, direccion, ciudad string
	if a := o.ShippingAddress; a != nil {
		celular = a.ReceiverPhone
		direccion = a.Street
		if strings.TrimSpace(a.Comment) != "" {
			direccion = a.Street + ", " + a.Comment
		}
		ciudad = a.City
	}

	return halcon.Pedido{
		Origen:          origen,
		NumeroEnvio:     prefix + o.OrderID,
		NumeroPedidoWix: o.OrderID,
		Destinatario:    normalize.RecipientName(o),
		Celular:         celular,
		Direccion:       direccion,
		Ciudad:          ciudad,
	}
}

// Push sends the order to the partner and stores the serial it answers with.
// The partner response is returned as is.
func (s *Service) Push(ctx context.Context, id string) (halcon.PushResult, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.Eligible(o) {
		return nil, errors.Wrapf(ErrNotEligible, "%s %s (logistic type %q)", o.Channel, o.OrderID, models.Deref(o.LogisticType))
	}

	res, err := s.pusher.Push(ctx, BuildPedido(o))
	if err != nil {
		return nil, err
	}

	serial, ok := res.Serial()
	if !ok {
		slog.Info("pushed to partner", "order_id", o.OrderID, "channel", o.Channel)
		return res, nil
	}
	if _, err := s.repo.SetHalconSerial(ctx, o.ID, serial, actor); err != nil {
		return res, errors.Wrap(err, "store halcon serial")
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, o.ID)
	}
	slog.Info("pushed to partner", "order_id", o.OrderID, "channel", o.Channel, "serial", serial)
	return res, nil
}
