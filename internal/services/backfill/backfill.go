// Package backfill fills fulfillment columns that older syncs left empty
// and drives historical resyncs.
package backfill

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/batch"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	width = 5
	pause = 300 * time.Millisecond
)

type Store interface {
	ListMissingLogisticType(ctx context.Context, limit int) ([]models.Order, error)
	ListMissingStore(ctx context.Context, limit int) ([]models.Order, error)
	UpdateFulfillment(ctx context.Context, id string, logisticType, storeID, storeName *string) error
}

type MercadoLibre interface {
	GetOrder(ctx context.Context, id string) (*mercadolibre.Order, error)
	GetShipment(ctx context.Context, id string) (*mercadolibre.Shipment, error)
}

type StoreNamer interface {
	StoreName(storeID string) *string
}

// Invalidator drops cached copies of orders after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string)
}

type Syncer interface {
	Run(ctx context.Context, req syncer.Request) (syncer.Summary, error)
}

type Counters struct {
	Total   int      `json:"total"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ProgressFunc receives the running counters after every batch.
type ProgressFunc func(job string, c Counters)

type Service struct {
	store    Store
	ml       MercadoLibre
	names    StoreNamer
	sync     Syncer
	cache    Invalidator
	progress ProgressFunc
	pause    time.Duration
}

func New(store Store, ml MercadoLibre, names StoreNamer, sync Syncer) *Service {
	return &Service{store: store, ml: ml, names: names, sync: sync, pause: pause}
}

func (s *Service) WithInvalidator(c Invalidator) *Service {
	s.cache = c
	return s
}

func (s *Service) WithProgress(fn ProgressFunc) *Service {
	s.progress = fn
	return s
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeSkipped
)

// run applies fn to rows in batches and keeps the counters.
func (s *Service) run(ctx context.Context, job string, rows []models.Order, fn func(ctx context.Context, o models.Order) (outcome, error)) Counters {
	c := Counters{Total: len(rows)}
	var errs error
	for _, chunk := range batch.Chunk(rows, width) {
		res := batch.Map(ctx, chunk, width, 0, fn)
		for i, r := range res {
			switch {
			case r.Err != nil:
				c.Failed++
				errs = multierr.Append(errs, errors.Wrapf(r.Err, "order %s", chunk[i].OrderID))
			case r.Value == outcomeSkipped:
				c.Skipped++
			default:
				c.Updated++
			}
		}
		if s.progress != nil {
			s.progress(job, c)
		}
		if ctx.Err() != nil {
			break
		}
		if s.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.pause):
			}
		}
	}
	for _, e := range multierr.Errors(errs) {
		c.Errors = append(c.Errors, e.Error())
	}
	slog.Info("backfill finished", "job", job, "total", c.Total, "updated", c.Updated, "skipped", c.Skipped, "failed", c.Failed)
	return c
}

func (s *Service) update(ctx context.Context, id string, logisticType, storeID, storeName *string) error {
	if err := s.store.UpdateFulfillment(ctx, id, logisticType, storeID, storeName); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	return nil
}

// LogisticType copies the shipment's logistic type onto ML orders missing it.
func (s *Service) LogisticType(ctx context.Context, limit int) (Counters, error) {
	rows, err := s.store.ListMissingLogisticType(ctx, limit)
	if err != nil {
		return Counters{}, errors.Wrap(err, "list orders without logistic type")
	}
	return s.run(ctx, "logistic_type", rows, func(ctx context.Context, o models.Order) (outcome, error) {
		if o.ShippingID == nil || *o.ShippingID == "" {
			return outcomeSkipped, nil
		}
		sh, err := s.ml.GetShipment(ctx, *o.ShippingID)
		if err != nil {
			return 0, err
		}
		lt := strings.TrimSpace(sh.LogisticType)
		if lt == "" {
			return outcomeSkipped, nil
		}
		return outcomeUpdated, s.update(ctx, o.ID, &lt, nil, nil)
	}), nil
}

// StoreNames sets store_id and the mapped branch name on ML orders missing them.
func (s *Service) StoreNames(ctx context.Context, limit int) (Counters, error) {
	rows, err := s.store.ListMissingStore(ctx, limit)
	if err != nil {
		return Counters{}, errors.Wrap(err, "list orders without store")
	}
	return s.run(ctx, "store_names", rows, func(ctx context.Context, o models.Order) (outcome, error) {
		mo, err := s.ml.GetOrder(ctx, o.OrderID)
		if err != nil {
			return 0, err
		}
		storeID := normalize.MercadoLibreStoreID(*mo)
		if storeID == "" {
			return outcomeSkipped, nil
		}
		var name *string
		if s.names != nil {
			name = s.names.StoreName(storeID)
		}
		return outcomeUpdated, s.update(ctx, o.ID, nil, &storeID, name)
	}), nil
}

// Historical runs a confirmed full resync per channel.
// A failing channel does not stop the others; its error is returned at the end.
func (s *Service) Historical(ctx context.Context, channels []models.Channel, confirm bool) ([]syncer.Summary, error) {
	if !confirm {
		return nil, syncer.ErrNotConfirmed
	}
	var (
		out  []syncer.Summary
		errs error
	)
	for _, ch := range channels {
		sum, err := s.sync.Run(ctx, syncer.Request{Channel: ch, Mode: syncer.ModeFull, Confirm: true})
		out = append(out, sum)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "historical sync %s", ch))
		}
	}
	return out, errs
}
