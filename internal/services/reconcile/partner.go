package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/partner/halcon"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	partnerActor = "sync:halcon"

	DefaultLookback = 30 * time.Minute
)

type Partner interface {
	DeliveredSince(ctx context.Context, collection string, since time.Time) ([]map[string]string, error)
}

type PartnerOptions struct {
	Lookback time.Duration
	DryRun   bool
}

type PartnerResult struct {
	DryRun    bool      `json:"dry_run"`
	Since     time.Time `json:"since"`
	WixFound  int       `json:"wix_found"`
	FlexFound int       `json:"flex_found"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Changes   []Change  `json:"changes,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// PartnerDeliveredJob marks orders delivered once the partner reports them delivered.
type PartnerDeliveredJob struct {
	store   Store
	partner Partner
	events  EventPublisher
	cache   Invalidator
	now     func() time.Time
}

func NewPartnerDeliveredJob(store Store, partner Partner, events EventPublisher) *PartnerDeliveredJob {
	return &PartnerDeliveredJob{store: store, partner: partner, events: events, now: time.Now}
}

func (j *PartnerDeliveredJob) WithInvalidator(c Invalidator) *PartnerDeliveredJob {
	j.cache = c
	return j
}

type partnerSource struct {
	collection string
	field      string
	match      func(v string) pgorders.Match
}

var partnerSources = []partnerSource{
	{
		collection: halcon.CollectionWix,
		field:      "numero_pedido_wix",
		match: func(v string) pgorders.Match {
			return pgorders.Match{Channel: models.ChannelWix, OrderID: v}
		},
	},
	{
		collection: halcon.CollectionFlex,
		field:      "numero_envio",
		match: func(v string) pgorders.Match {
			return pgorders.Match{Channel: models.ChannelMercadoLibre, ShippingID: v}
		},
	},
}

// Run is idempotent: an order already delivered is skipped.
// A failed partner query aborts the run; a failed order write is counted.
func (j *PartnerDeliveredJob) Run(ctx context.Context, opts PartnerOptions) (PartnerResult, error) {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	since := j.now().UTC().Add(-opts.Lookback)
	res := PartnerResult{DryRun: opts.DryRun, Since: since}
	log := slog.With("job", "partner_delivered", "dry_run", opts.DryRun)

	var errs error
	for _, src := range partnerSources {
		docs, err := j.partner.DeliveredSince(ctx, src.collection, since)
		if err != nil {
			return res, errors.Wrapf(err, "query %s", src.collection)
		}
		if src.collection == halcon.CollectionWix {
			res.WixFound = len(docs)
		} else {
			res.FlexFound = len(docs)
		}

		for _, doc := range docs {
			key := strings.TrimSpace(doc[src.field])
			if key == "" {
				res.Skipped++
				continue
			}
			m := src.match(key)

			var changes []Change
			if opts.DryRun {
				changes, err = wouldAdvance(ctx, j.store, m, models.StatusEntregado)
			} else {
				var trs []models.StatusTransition
				trs, err = j.store.AdvanceStatus(ctx, m, models.StatusEntregado, partnerActor)
				if err == nil {
					advanced(ctx, j.cache, j.events, trs, partnerActor)
					changes = changesFrom(trs)
				}
			}
			if err != nil {
				res.Failed++
				errs = multierr.Append(errs, errors.Wrapf(err, "%s %s", src.field, key))
				continue
			}
			if len(changes) == 0 {
				res.Skipped++
				continue
			}
			res.Updated += len(changes)
			res.Changes = append(res.Changes, changes...)
		}
	}
	for _, e := range multierr.Errors(errs) {
		res.Errors = append(res.Errors, e.Error())
	}

	log.Info("partner delivered sync finished",
		"wix_found", res.WixFound, "flex_found", res.FlexFound,
		"updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}
