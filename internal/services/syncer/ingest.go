package syncer

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/BearBump/OrderBox/internal/batch"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/pkg/errors"
)

const ingestWidth = 5

// IngestFalabella fetches, normalizes and upserts the given orders.
// An order that cannot be fetched is counted and skipped.
func (s *Syncer) IngestFalabella(ctx context.Context, orderIDs []string) (Summary, error) {
	sum := Summary{Channel: models.ChannelFalabella, Mode: ModeIncremental, Phase: PhasePaging}
	log := slog.With("channel", models.ChannelFalabella, "op", "webhook")

	res := batch.Map(ctx, orderIDs, ingestWidth, 0, func(ctx context.Context, id string) (*falabella.Order, error) {
		return s.fb.GetOrder(ctx, id)
	})
	orders := make([]falabella.Order, 0, len(orderIDs))
	for i, r := range res {
		if r.Err != nil {
			sum.Errors = append(sum.Errors, r.Err.Error())
			log.Warn("webhook order fetch failed", "order_id", orderIDs[i], "error", r.Err.Error())
			continue
		}
		orders = append(orders, *r.Value)
	}
	if len(orders) == 0 && len(sum.Errors) > 0 {
		return s.fail(log, &sum, errors.New("no webhook order could be fetched"))
	}

	s.phase(log, &sum, PhaseFetchingAuxiliary)
	raws := s.withItems(ctx, log, orders, &sum)
	return s.ingest(ctx, log, models.ChannelFalabella, raws, sum)
}

// IngestMercadoLibre handles one orders_v2 notification resource, e.g. "/orders/2000001".
func (s *Syncer) IngestMercadoLibre(ctx context.Context, resource string) (Summary, error) {
	sum := Summary{Channel: models.ChannelMercadoLibre, Mode: ModeIncremental, Phase: PhasePaging}
	log := slog.With("channel", models.ChannelMercadoLibre, "op", "webhook")

	id, ok := mercadolibre.OrderIDFromResource(resource)
	if !ok {
		return s.fail(log, &sum, errors.Wrap(ErrUnsupportedResource, resource))
	}
	o, err := s.ml.GetOrder(ctx, id)
	if err != nil {
		return s.fail(log, &sum, err)
	}

	s.phase(log, &sum, PhaseFetchingAuxiliary)
	raws := s.withShipments(ctx, log, []mercadolibre.Order{*o}, &sum)
	return s.ingest(ctx, log, models.ChannelMercadoLibre, raws, sum)
}

func (s *Syncer) ingest(ctx context.Context, log *slog.Logger, ch models.Channel, raws []normalize.Raw, sum Summary) (Summary, error) {
	orders := make([]models.Order, 0, len(raws))
	for _, raw := range raws {
		o, err := s.norm.Normalize(raw)
		if err != nil {
			sum.Errors = append(sum.Errors, err.Error())
			log.Warn("order skipped", "error", err.Error())
			continue
		}
		orders = append(orders, o)
	}
	sum.Total = len(orders)

	s.phase(log, &sum, PhaseUpserting)
	s.persist(ctx, log, ch, orders, &sum)
	s.phase(log, &sum, PhaseDone)
	sum.Success = true
	log.Info("webhook ingested", "total", sum.Total, "inserted", sum.Inserted, "updated", sum.Updated)
	return sum, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
