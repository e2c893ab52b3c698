package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BearBump/OrderBox/internal/bootstrap"
	"github.com/BearBump/OrderBox/internal/cache"
	"github.com/BearBump/OrderBox/internal/cache/rediscache"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/services/backfill"
	"github.com/BearBump/OrderBox/internal/services/orders"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/pkg/errors"
)

const (
	jobLogistic   = "logistic"
	jobStores     = "stores"
	jobHistorical = "historical"
)

type options struct {
	job      string
	channels []models.Channel
	confirm  bool
	limit    int
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("orderbox-backfill", flag.ContinueOnError)
	fs.SetOutput(stderr)

	job := fs.String("job", "", "backfill to run: logistic|stores|historical")
	channels := fs.String("channels", "mercadolibre,wix,falabella", "comma separated channels for -job=historical")
	confirm := fs.Bool("confirm", false, "required for -job=historical, which deletes and reloads each channel")
	limit := fs.Int("limit", 500, "max orders per run for logistic and stores")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{job: *job, confirm: *confirm, limit: *limit}
	switch opts.job {
	case jobLogistic, jobStores:
		if opts.limit <= 0 {
			return options{}, errors.New("-limit must be positive")
		}
	case jobHistorical:
		for _, v := range strings.Split(*channels, ",") {
			if strings.TrimSpace(v) == "" {
				continue
			}
			ch, err := models.ParseChannel(v)
			if err != nil {
				return options{}, err
			}
			opts.channels = append(opts.channels, ch)
		}
		if len(opts.channels) == 0 {
			return options{}, errors.New("-channels is empty")
		}
		if !opts.confirm {
			return options{}, errors.New("-job=historical deletes data, pass -confirm")
		}
	case "":
		return options{}, errors.New("missing -job")
	default:
		return options{}, errors.Errorf("unknown job %q", opts.job)
	}
	return opts, nil
}

type backfiller interface {
	LogisticType(ctx context.Context, limit int) (backfill.Counters, error)
	StoreNames(ctx context.Context, limit int) (backfill.Counters, error)
	Historical(ctx context.Context, channels []models.Channel, confirm bool) ([]syncer.Summary, error)
}

func progressPrinter(out io.Writer) backfill.ProgressFunc {
	return func(job string, c backfill.Counters) {
		fmt.Fprintf(out, "%s: %d/%d updated=%d skipped=%d failed=%d\n",
			job, c.Updated+c.Skipped+c.Failed, c.Total, c.Updated, c.Skipped, c.Failed)
	}
}

// run returns an error only when the job could not run at all.
// Per-order failures are reported in the summary.
func run(ctx context.Context, opts options, svc backfiller, out io.Writer) error {
	switch opts.job {
	case jobLogistic, jobStores:
		var (
			c   backfill.Counters
			err error
		)
		if opts.job == jobLogistic {
			c, err = svc.LogisticType(ctx, opts.limit)
		} else {
			c, err = svc.StoreNames(ctx, opts.limit)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "done: total=%d updated=%d skipped=%d failed=%d\n", c.Total, c.Updated, c.Skipped, c.Failed)
		for _, e := range c.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
		return nil

	case jobHistorical:
		sums, err := svc.Historical(ctx, opts.channels, opts.confirm)
		for _, s := range sums {
			fmt.Fprintf(out, "%s: success=%t total=%d inserted=%d updated=%d deleted=%d errors=%d\n",
				s.Channel, s.Success, s.Total, s.Inserted, s.Updated, s.Deleted, len(s.Errors))
		}
		return err
	}
	return errors.Errorf("unknown job %q", opts.job)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := bootstrap.MustLoadConfig()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := bootstrap.OpenStorage(ctx, cfg.Database.DSN(), 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	var (
		tokens     mercadolibre.TokenStore
		orderCache cache.BytesCache
	)
	if rc := bootstrap.Redis(cfg); rc != nil {
		defer rc.Close()
		c := rediscache.NewWithClient(rc)
		tokens, orderCache = c, c
	}
	inv := orders.NewCacheInvalidator(orderCache)

	var events syncer.EventPublisher = st
	if p := bootstrap.Producer(cfg); p != nil {
		defer p.Close()
		events = p
	}

	clients := bootstrap.NewClients(cfg, tokens)
	norm := bootstrap.Normalizer(cfg)
	sc := syncer.New(st, events, norm, clients.MercadoLibre, clients.Wix, clients.Falabella).WithInvalidator(inv)
	svc := backfill.New(st, clients.MercadoLibre, norm, sc).
		WithInvalidator(inv).
		WithProgress(progressPrinter(os.Stdout))

	if err := run(ctx, opts, svc, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "backfill %s failed: %v\n", opts.job, err)
		cancel()
		os.Exit(1)
	}
}
