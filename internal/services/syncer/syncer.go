// Package syncer pulls marketplace orders into the store, in full or incremental mode,
// and ingests single orders pushed by marketplace webhooks.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderBox/internal/batch"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/wix"
	"github.com/BearBump/OrderBox/internal/metrics"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

type Phase string

const (
	PhaseInitializing      Phase = "initializing"
	PhasePaging            Phase = "paging"
	PhaseFetchingAuxiliary Phase = "fetching_auxiliary"
	PhaseUpserting         Phase = "upserting"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

var (
	ErrNotConfirmed        = errors.New("full resync deletes stored orders and requires confirm=true")
	ErrUnsupportedResource = errors.New("unsupported notification resource")
)

// DefaultEpoch is the incremental start for a channel with no stored orders.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	watermarkLag = 48 * time.Hour

	upsertBatchSize  = 50
	upsertBatchPause = 100 * time.Millisecond

	shipmentWidth = 5

	itemBatchWidth = 20
	itemBatchPause = 200 * time.Millisecond
)

type Store interface {
	UpsertOrders(ctx context.Context, orders []models.Order) (pgorders.UpsertResult, error)
	DeleteWindow(ctx context.Context, channel models.Channel, from time.Time) (int64, error)
	LatestOrderDate(ctx context.Context, channel models.Channel) (*time.Time, error)
}

type EventPublisher interface {
	PublishOrderEvents(ctx context.Context, evs ...models.OrderEvent) error
}

// Invalidator drops cached copies of orders after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string)
}

type MercadoLibre interface {
	FetchAllOrders(ctx context.Context, w marketplace.Window) ([]mercadolibre.Order, error)
	GetOrder(ctx context.Context, id string) (*mercadolibre.Order, error)
	GetShipment(ctx context.Context, id string) (*mercadolibre.Shipment, error)
}

type Wix interface {
	FetchOrders(ctx context.Context, w marketplace.Window) ([]wix.Order, error)
}

type Falabella interface {
	FetchOrders(ctx context.Context, updatedAfter time.Time) ([]falabella.Order, error)
	GetOrder(ctx context.Context, orderID string) (*falabella.Order, error)
	GetMultipleOrderItems(ctx context.Context, orderIDs []string) (map[string][]falabella.OrderItem, error)
}

type Request struct {
	Channel models.Channel
	Mode    Mode
	From    time.Time
	To      time.Time
	Confirm bool
}

type Summary struct {
	Success     bool           `json:"success"`
	Channel     models.Channel `json:"channel"`
	Mode        Mode           `json:"mode"`
	Phase       Phase          `json:"phase"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Total       int            `json:"total"`
	Inserted    int            `json:"inserted"`
	Updated     int            `json:"updated"`
	Unchanged   int            `json:"unchanged"`
	Deleted     int64          `json:"deleted"`
	AuxFailures int            `json:"auxFailures"`
	Errors      []string       `json:"errors,omitempty"`
}

type Syncer struct {
	store  Store
	events EventPublisher
	norm   *normalize.Normalizer
	ml     MercadoLibre
	wix    Wix
	fb     Falabella
	cache  Invalidator

	metrics *metrics.Sync
	now     func() time.Time

	upsertBatchSize  int
	upsertBatchPause time.Duration
	itemBatchPause   time.Duration
}

func New(store Store, events EventPublisher, norm *normalize.Normalizer, ml MercadoLibre, wx Wix, fb Falabella) *Syncer {
	if norm == nil {
		norm = normalize.New(nil)
	}
	return &Syncer{
		store:            store,
		events:           events,
		norm:             norm,
		ml:               ml,
		wix:              wx,
		fb:               fb,
		now:              time.Now,
		upsertBatchSize:  upsertBatchSize,
		upsertBatchPause: upsertBatchPause,
		itemBatchPause:   itemBatchPause,
	}
}

func (s *Syncer) WithInvalidator(c Invalidator) *Syncer {
	s.cache = c
	return s
}

func (s *Syncer) WithMetrics(m *metrics.Sync) *Syncer {
	s.metrics = m
	return s
}

// WithPauses overrides the pauses between upsert batches and Falabella item waves.
func (s *Syncer) WithPauses(upsert, items time.Duration) *Syncer {
	if upsert >= 0 {
		s.upsertBatchPause = upsert
	}
	if items >= 0 {
		s.itemBatchPause = items
	}
	return s
}

// Run executes one sync. A systemic failure returns an error with the summary
// in phase failed; per-item and per-batch failures are only counted.
func (s *Syncer) Run(ctx context.Context, req Request) (Summary, error) {
	if req.Mode == "" {
		req.Mode = ModeIncremental
	}
	sum := Summary{Channel: req.Channel, Mode: req.Mode, Phase: PhaseInitializing}
	log := slog.With("channel", req.Channel, "mode", req.Mode)

	if !req.Channel.IsValid() {
		return s.fail(log, &sum, errors.Errorf("unknown channel %q", req.Channel))
	}
	if req.Mode != ModeIncremental && req.Mode != ModeFull {
		return s.fail(log, &sum, errors.Errorf("unknown sync mode %q", req.Mode))
	}
	if req.Mode == ModeFull && !req.Confirm {
		sum.Phase = PhaseFailed
		return sum, ErrNotConfirmed
	}

	w, err := s.window(ctx, req)
	if err != nil {
		return s.fail(log, &sum, err)
	}
	sum.From, sum.To = w.From, w.To
	log.Info("sync started", "from", w.From, "to", w.To)

	s.phase(log, &sum, PhasePaging)
	raws, err := s.fetch(ctx, log, req.Channel, w, &sum)
	if err != nil {
		return s.fail(log, &sum, err)
	}

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

	if req.Mode == ModeFull {
		n, err := s.store.DeleteWindow(ctx, req.Channel, w.From)
		if err != nil {
			return s.fail(log, &sum, err)
		}
		sum.Deleted = n
		log.Info("sync window cleared", "deleted", n)
	}

	s.phase(log, &sum, PhaseUpserting)
	s.persist(ctx, log, req.Channel, orders, &sum)

	s.phase(log, &sum, PhaseDone)
	sum.Success = true
	log.Info("sync finished",
		"total", sum.Total, "inserted", sum.Inserted, "updated", sum.Updated,
		"unchanged", sum.Unchanged, "deleted", sum.Deleted, "aux_failures", sum.AuxFailures, "errors", len(sum.Errors))
	return sum, nil
}

func (s *Syncer) window(ctx context.Context, req Request) (marketplace.Window, error) {
	now := s.now().UTC()
	w := marketplace.Window{From: req.From.UTC(), To: req.To.UTC()}
	if req.To.IsZero() {
		w.To = now
	}
	if !req.From.IsZero() {
		return w, nil
	}

	switch {
	case req.Mode == ModeIncremental:
		latest, err := s.store.LatestOrderDate(ctx, req.Channel)
		if err != nil {
			return w, err
		}
		w.From = Watermark(latest)
	case req.Channel == models.ChannelFalabella:
		w.From = now.AddDate(0, -6, 0)
	default:
		w.From = DefaultEpoch
	}
	return w, nil
}

// Watermark is where an incremental run starts given the newest stored order date.
func Watermark(latest *time.Time) time.Time {
	if latest == nil {
		return DefaultEpoch
	}
	return latest.UTC().Add(-watermarkLag)
}

func (s *Syncer) fetch(ctx context.Context, log *slog.Logger, ch models.Channel, w marketplace.Window, sum *Summary) ([]normalize.Raw, error) {
	switch ch {
	case models.ChannelMercadoLibre:
		orders, err := s.ml.FetchAllOrders(ctx, w)
		if err != nil {
			return nil, err
		}
		log.Info("orders paged", "count", len(orders))
		s.phase(log, sum, PhaseFetchingAuxiliary)
		return s.withShipments(ctx, log, orders, sum), nil

	case models.ChannelWix:
		orders, err := s.wix.FetchOrders(ctx, w)
		if err != nil {
			return nil, err
		}
		log.Info("orders paged", "count", len(orders))
		raws := make([]normalize.Raw, 0, len(orders))
		for _, o := range orders {
			raws = append(raws, normalize.WixRaw{Order: o})
		}
		return raws, nil

	case models.ChannelFalabella:
		orders, err := s.fb.FetchOrders(ctx, w.From)
		if err != nil {
			return nil, err
		}
		log.Info("orders paged", "count", len(orders))
		s.phase(log, sum, PhaseFetchingAuxiliary)
		return s.withItems(ctx, log, orders, sum), nil
	}
	return nil, errors.Errorf("unknown channel %q", ch)
}

func (s *Syncer) withShipments(ctx context.Context, log *slog.Logger, orders []mercadolibre.Order, sum *Summary) []normalize.Raw {
	res := batch.Map(ctx, orders, shipmentWidth, 0, func(ctx context.Context, o mercadolibre.Order) (*mercadolibre.Shipment, error) {
		if o.Shipping == nil || o.Shipping.ID == nil {
			return nil, nil
		}
		return s.ml.GetShipment(ctx, formatID(*o.Shipping.ID))
	})

	raws := make([]normalize.Raw, 0, len(orders))
	for i, o := range orders {
		if err := res[i].Err; err != nil {
			sum.AuxFailures++
			log.Warn("shipment fetch failed", "order_id", o.ID, "error", err.Error())
		}
		raws = append(raws, normalize.MercadoLibreRaw{Order: o, Shipment: res[i].Value})
	}
	return raws
}

func (s *Syncer) withItems(ctx context.Context, log *slog.Logger, orders []falabella.Order, sum *Summary) []normalize.Raw {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID.String())
	}
	chunks := batch.Chunk(ids, falabella.MaxItemsBatch)
	res := batch.Map(ctx, chunks, itemBatchWidth, s.itemBatchPause, func(ctx context.Context, chunk []string) (map[string][]falabella.OrderItem, error) {
		return s.fb.GetMultipleOrderItems(ctx, chunk)
	})

	items := make(map[string][]falabella.OrderItem, len(orders))
	for i, r := range res {
		if r.Err != nil {
			sum.AuxFailures += len(chunks[i])
			log.Warn("order items fetch failed", "orders", len(chunks[i]), "error", r.Err.Error())
			continue
		}
		for id, its := range r.Value {
			items[id] = its
		}
	}

	raws := make([]normalize.Raw, 0, len(orders))
	for _, o := range orders {
		raws = append(raws, normalize.FalabellaRaw{Order: o, Items: items[o.OrderID.String()]})
	}
	return raws
}

type batchOutcome struct {
	res pgorders.UpsertResult
	err error
}

// persist upserts in fixed batches and publishes the resulting feed events.
// A failed batch is counted and the rest continue.
func (s *Syncer) persist(ctx context.Context, log *slog.Logger, ch models.Channel, orders []models.Order, sum *Summary) {
	chunks := batch.Chunk(orders, s.upsertBatchSize)
	out := batch.Map(ctx, chunks, 1, s.upsertBatchPause, func(ctx context.Context, chunk []models.Order) (batchOutcome, error) {
		res, err := s.store.UpsertOrders(ctx, chunk)
		return batchOutcome{res: res, err: err}, nil
	})

	actor := "sync:" + string(ch)
	for i, r := range out {
		if r.Err != nil {
			sum.Errors = append(sum.Errors, r.Err.Error())
			continue
		}
		if err := r.Value.err; err != nil {
			sum.Errors = append(sum.Errors, err.Error())
			s.metrics.Add(string(ch), metrics.ResultFailed, len(chunks[i]))
			log.Error("upsert batch failed", "batch", i, "size", len(chunks[i]), "error", err.Error())
			continue
		}

		res := r.Value.res
		sum.Inserted += res.Inserted
		sum.Updated += res.Updated
		sum.Unchanged += res.Unchanged
		s.metrics.Add(string(ch), metrics.ResultInserted, res.Inserted)
		s.metrics.Add(string(ch), metrics.ResultUpdated, res.Updated)
		s.metrics.Add(string(ch), metrics.ResultUnchanged, res.Unchanged)
		if s.cache != nil && len(res.Refreshed) > 0 {
			s.cache.Invalidate(ctx, res.Refreshed...)
		}

		evs := s.eventsFor(res, actor)
		if len(evs) == 0 || s.events == nil {
			continue
		}
		if err := s.events.PublishOrderEvents(ctx, evs...); err != nil {
			sum.Errors = append(sum.Errors, err.Error())
			log.Error("publish order events", "count", len(evs), "error", err.Error())
		}
	}
}

func (s *Syncer) eventsFor(res pgorders.UpsertResult, actor string) []models.OrderEvent {
	now := s.now().UTC()
	evs := make([]models.OrderEvent, 0, len(res.Created)+len(res.Transitions))
	for _, id := range res.Created {
		evs = append(evs, models.OrderEvent{
			ID:        uuid.NewString(),
			OrderID:   id,
			EventType: models.EventOrderCreated,
			Actor:     actor,
			CreatedAt: now,
		})
	}
	for _, tr := range res.Transitions {
		evs = append(evs, tr.Event(actor))
	}
	return evs
}

func (s *Syncer) phase(log *slog.Logger, sum *Summary, p Phase) {
	sum.Phase = p
	log.Debug("sync phase", "phase", p)
}

func (s *Syncer) fail(log *slog.Logger, sum *Summary, err error) (Summary, error) {
	sum.Phase = PhaseFailed
	sum.Success = false
	sum.Errors = append(sum.Errors, err.Error())
	log.Error("sync failed", "error", err.Error())
	return *sum, err
}
