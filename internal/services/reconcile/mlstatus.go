package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderBox/internal/batch"
	"github.com/BearBump/OrderBox/internal/cache/rediscache"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	mlActor = "sync:mercadolibre"

	DefaultDaysBack = 60

	mlWidth = 5
	mlPause = 250 * time.Millisecond

	defaultMLRatePerMinute = 300
	rateLimitWait          = 500 * time.Millisecond
)

type MercadoLibre interface {
	GetOrder(ctx context.Context, id string) (*mercadolibre.Order, error)
	GetShipment(ctx context.Context, id string) (*mercadolibre.Shipment, error)
}

type MLStatusOptions struct {
	DaysBack int  `json:"days_back"`
	DryRun   bool `json:"dry_run"`
}

type MLStatusResult struct {
	DryRun    bool     `json:"dry_run"`
	DaysBack  int      `json:"days_back"`
	Checked   int      `json:"checked"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Changes   []Change `json:"changes,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// MLStatusJob re-derives the status of open ML orders from the order and its shipment.
type MLStatusJob struct {
	store  Store
	ml     MercadoLibre
	rl     RateLimiter
	events EventPublisher
	cache  Invalidator

	ratePerMinute int64
	pause         time.Duration
	now           func() time.Time
}

func NewMLStatusJob(store Store, ml MercadoLibre, rl RateLimiter, events EventPublisher) *MLStatusJob {
	return &MLStatusJob{
		store:         store,
		ml:            ml,
		rl:            rl,
		events:        events,
		ratePerMinute: defaultMLRatePerMinute,
		pause:         mlPause,
		now:           time.Now,
	}
}

func (j *MLStatusJob) WithInvalidator(c Invalidator) *MLStatusJob {
	j.cache = c
	return j
}

func (j *MLStatusJob) WithRateLimit(perMinute int64) *MLStatusJob {
	if perMinute > 0 {
		j.ratePerMinute = perMinute
	}
	return j
}

type mlOutcome struct {
	skipped bool
	changes []Change
}

// Run checks every open ML order placed in the last DaysBack days.
// Only a failure to list the orders is returned as an error.
func (j *MLStatusJob) Run(ctx context.Context, opts MLStatusOptions) (MLStatusResult, error) {
	if opts.DaysBack <= 0 {
		opts.DaysBack = DefaultDaysBack
	}
	res := MLStatusResult{DryRun: opts.DryRun, DaysBack: opts.DaysBack}
	log := slog.With("job", "ml_status", "dry_run", opts.DryRun)

	since := j.now().UTC().AddDate(0, 0, -opts.DaysBack)
	orders, err := j.store.ListPendingStatus(ctx, models.ChannelMercadoLibre, since)
	if err != nil {
		return res, errors.Wrap(err, "list pending ml orders")
	}
	log.Info("ml status check started", "orders", len(orders), "since", since)

	out := batch.Map(ctx, orders, mlWidth, j.pause, func(ctx context.Context, o models.Order) (mlOutcome, error) {
		return j.checkOne(ctx, o, opts.DryRun)
	})

	var errs error
	for i, r := range out {
		o := orders[i]
		switch {
		case r.Err != nil:
			res.Failed++
			errs = multierr.Append(errs, errors.Wrapf(r.Err, "order %s", o.OrderID))
			log.Warn("ml status check failed", "order_id", o.OrderID, "error", r.Err.Error())
		case r.Value.skipped:
			res.Skipped++
		case len(r.Value.changes) == 0:
			res.Checked++
			res.Unchanged++
		default:
			res.Checked++
			res.Updated++
			res.Changes = append(res.Changes, r.Value.changes...)
		}
	}
	for _, e := range multierr.Errors(errs) {
		res.Errors = append(res.Errors, e.Error())
	}

	log.Info("ml status check finished",
		"checked", res.Checked, "updated", res.Updated, "unchanged", res.Unchanged,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (j *MLStatusJob) checkOne(ctx context.Context, o models.Order, dryRun bool) (mlOutcome, error) {
	if o.ShippingID == nil || *o.ShippingID == "" {
		return mlOutcome{skipped: true}, nil
	}
	if err := j.wait(ctx); err != nil {
		return mlOutcome{}, err
	}

	mo, err := j.ml.GetOrder(ctx, o.OrderID)
	if err != nil {
		return mlOutcome{}, err
	}
	sh, err := j.ml.GetShipment(ctx, *o.ShippingID)
	if err != nil {
		return mlOutcome{}, err
	}

	derived := normalize.MercadoLibreStatus(mo.Status, sh)
	if derived == o.Status || !o.Status.Advances(derived) {
		return mlOutcome{}, nil
	}

	m := pgorders.Match{Channel: models.ChannelMercadoLibre, OrderID: o.OrderID}
	if dryRun {
		changes, err := wouldAdvance(ctx, j.store, m, derived)
		return mlOutcome{changes: changes}, err
	}
	trs, err := j.store.AdvanceStatus(ctx, m, derived, mlActor)
	if err != nil {
		return mlOutcome{}, err
	}
	advanced(ctx, j.cache, j.events, trs, mlActor)
	return mlOutcome{changes: changesFrom(trs)}, nil
}

// wait passes the shared per-minute ML limiter. Over the limit it backs off briefly and goes on.
func (j *MLStatusJob) wait(ctx context.Context) error {
	if j.rl == nil || j.ratePerMinute <= 0 {
		return nil
	}
	key := rediscache.MinuteKey("mercadolibre", j.now())
	allowed, n, err := j.rl.Allow(ctx, key, j.ratePerMinute, time.Minute)
	if err != nil {
		return err
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "service", "mercadolibre", "count", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rateLimitWait):
		}
	}
	return nil
}
