package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderBox/config"
	"github.com/BearBump/OrderBox/internal/bootstrap"
	"github.com/BearBump/OrderBox/internal/cache"
	"github.com/BearBump/OrderBox/internal/cache/rediscache"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/metrics"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/services/orders"
	"github.com/BearBump/OrderBox/internal/services/reconcile"
	"github.com/BearBump/OrderBox/internal/services/scheduler"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// workerStore is what the worker needs from postgres.
type workerStore interface {
	syncer.Store
	reconcile.Store
	syncer.EventPublisher
	Ping(ctx context.Context) error
}

type workerClients struct {
	ml      syncer.MercadoLibre
	wix     syncer.Wix
	fb      syncer.Falabella
	partner reconcile.Partner
}

// workerRedis is the redis-backed infra; every field is nil without redis.
type workerRedis struct {
	limiter reconcile.RateLimiter
	tokens  mercadolibre.TokenStore
	orders  cache.BytesCache
	close   func()
}

type workerFactories struct {
	newStorage func(ctx context.Context, cfg *config.Config) (store workerStore, closeFn func(), err error)
	// newPublisher returns nil when events go straight to the store.
	newPublisher func(cfg *config.Config) (pub syncer.EventPublisher, closeFn func())
	newRedis     func(cfg *config.Config) workerRedis
	newClients   func(cfg *config.Config, tokens mercadolibre.TokenStore) workerClients
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (workerStore, func(), error) {
			st, err := bootstrap.OpenStorage(ctx, cfg.Database.DSN(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) (syncer.EventPublisher, func()) {
			p := bootstrap.Producer(cfg)
			if p == nil {
				return nil, nil
			}
			return p, func() { _ = p.Close() }
		},
		newRedis: func(cfg *config.Config) workerRedis {
			rc := bootstrap.Redis(cfg)
			if rc == nil {
				return workerRedis{}
			}
			c := rediscache.NewWithClient(rc)
			return workerRedis{
				limiter: rediscache.NewRateLimiterWithClient(rc),
				tokens:  c,
				orders:  c,
				close:   func() { _ = rc.Close() },
			}
		},
		newClients: func(cfg *config.Config, tokens mercadolibre.TokenStore) workerClients {
			c := bootstrap.NewClients(cfg, tokens)
			return workerClients{ml: c.MercadoLibre, wix: c.Wix, fb: c.Falabella, partner: c.Halcon}
		},
	}
}

type worker struct {
	sched *scheduler.Scheduler
	store workerStore
	reg   *prometheus.Registry
}

type syncRunner interface {
	Run(ctx context.Context, req syncer.Request) (syncer.Summary, error)
}

func syncJob(sc syncRunner, ch models.Channel) scheduler.Job {
	return scheduler.JobFunc("sync:"+ch.String(), func(ctx context.Context) error {
		sum, err := sc.Run(ctx, syncer.Request{Channel: ch, Mode: syncer.ModeIncremental})
		if err != nil {
			return err
		}
		slog.Info("scheduled sync done", "channel", ch, "total", sum.Total,
			"inserted", sum.Inserted, "updated", sum.Updated, "errors", len(sum.Errors))
		return nil
	})
}

func mlStatusJob(j *reconcile.MLStatusJob, daysBack int) scheduler.Job {
	return scheduler.JobFunc("ml_status", func(ctx context.Context) error {
		res, err := j.Run(ctx, reconcile.MLStatusOptions{DaysBack: daysBack})
		if err != nil {
			return err
		}
		slog.Info("ml status reconciled", "checked", res.Checked, "updated", res.Updated, "failed", res.Failed)
		return nil
	})
}

func partnerDeliveredJob(j *reconcile.PartnerDeliveredJob, cfg config.JobsConfig) scheduler.Job {
	return scheduler.JobFunc("partner_delivered", func(ctx context.Context) error {
		res, err := j.Run(ctx, reconcile.PartnerOptions{Lookback: config.Minutes(cfg.PartnerLookbackMinutes)})
		if err != nil {
			return err
		}
		slog.Info("partner deliveries reconciled", "wix", res.WixFound, "flex", res.FlexFound, "updated", res.Updated)
		return nil
	})
}

func newWorker(ctx context.Context, cfg *config.Config, f workerFactories) (*worker, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] != nil {
				closers[i]()
			}
		}
	}

	store, closeStore, err := f.newStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	var events syncer.EventPublisher = store
	if pub, closePub := f.newPublisher(cfg); pub != nil {
		events = pub
		closers = append(closers, closePub)
	}
	rd := f.newRedis(cfg)
	closers = append(closers, rd.close)
	clients := f.newClients(cfg, rd.tokens)
	// the API reads orders through this cache, so worker writes drop entries
	inv := orders.NewCacheInvalidator(rd.orders)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sc := syncer.New(store, events, bootstrap.Normalizer(cfg), clients.ml, clients.wix, clients.fb).
		WithMetrics(metrics.NewSync(reg)).
		WithInvalidator(inv)
	ml := reconcile.NewMLStatusJob(store, clients.ml, rd.limiter, events).
		WithRateLimit(int64(cfg.OrderBox.MLRateLimitPerMinute)).
		WithInvalidator(inv)
	pd := reconcile.NewPartnerDeliveredJob(store, clients.partner, events).WithInvalidator(inv)

	j := cfg.Jobs
	sched := scheduler.New().
		WithSettings(config.Seconds(j.TickSeconds), j.Concurrency).
		WithPlanner(scheduler.PlannerConfig{
			Jitter:   config.Seconds(j.JitterSeconds),
			Backoff1: config.Seconds(j.Backoff1Seconds),
			Backoff2: config.Seconds(j.Backoff2Seconds),
			Backoff3: config.Seconds(j.Backoff3Seconds),
			Backoff4: config.Seconds(j.Backoff4Seconds),
		}).
		WithMetrics(metrics.NewJobs(reg)).
		Register(syncJob(sc, models.ChannelMercadoLibre), config.Minutes(j.SyncMercadoLibreMinutes)).
		Register(syncJob(sc, models.ChannelWix), config.Minutes(j.SyncWixMinutes)).
		Register(syncJob(sc, models.ChannelFalabella), config.Minutes(j.SyncFalabellaMinutes)).
		Register(mlStatusJob(ml, j.MLStatusDaysBack), config.Minutes(j.MLStatusMinutes)).
		Register(partnerDeliveredJob(pd, j), config.Minutes(j.PartnerDeliveredMinutes))

	return &worker{sched: sched, store: store, reg: reg}, closeAll, nil
}

// RunOrderWorker runs the scheduler and the ops server until ctx is done.
func RunOrderWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerHTTPOpts) error {
	w, closeFn, err := newWorker(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer closeFn()

	opts.sched = w.sched
	opts.store = w.store
	opts.gatherer = w.reg
	opts.cfg = cfg

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() { httpErr <- runWorkerHTTPServer(ctx, opts) }()

	schedErr := make(chan error, 1)
	go func() { schedErr <- w.sched.Run(ctx) }()

	select {
	case err := <-httpErr:
		cancel()
		<-schedErr
		return err
	case err := <-schedErr:
		cancel()
		<-httpErr
		return err
	}
}
