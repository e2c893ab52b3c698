package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/OrderBox/config"
	ordersapi "github.com/BearBump/OrderBox/internal/api/orders_api"
	"github.com/BearBump/OrderBox/internal/bootstrap"
	"github.com/BearBump/OrderBox/internal/broker/kafka"
	"github.com/BearBump/OrderBox/internal/cache"
	"github.com/BearBump/OrderBox/internal/cache/rediscache"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/services/orders"
	"github.com/BearBump/OrderBox/internal/services/partner"
	"github.com/BearBump/OrderBox/internal/services/reconcile"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/redis/go-redis/v9"
)

type orderAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     orderAPIOpts
	api      *ordersapi.API
	consumer kafkaConsumer
	closers  []func()
}

func mustBootstrapOrderAPI() *orderAPIApp {
	cfg := bootstrap.MustLoadConfig()
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &orderAPIApp{ctx: ctx, cancel: cancel}

	st, err := bootstrap.OpenStorage(ctx, cfg.Database.DSN(), 60*time.Second)
	if err != nil {
		cancel()
		panic(err)
	}
	app.closers = append(app.closers, st.Close)

	var (
		orderCache cache.BytesCache
		tokens     mercadolibre.TokenStore
		limiter    reconcile.RateLimiter
	)
	if rc := bootstrap.Redis(cfg); rc != nil {
		app.closers = append(app.closers, func() { _ = rc.Close() })
		orderCache, tokens, limiter = redisDeps(rc)
	}

	var events syncer.EventPublisher = st
	if p := bootstrap.Producer(cfg); p != nil {
		app.closers = append(app.closers, func() { _ = p.Close() })
		events = p
	}

	clients := bootstrap.NewClients(cfg, tokens)
	policy, err := bootstrap.PartnerPolicy(cfg)
	if err != nil {
		app.Close()
		panic(err)
	}

	orderSvc := orders.New(st, orderCache, cfg.OrderBox.OrderCacheTTL()).
		WithLocation(cfg.OrderBox.Location())
	sc := syncer.New(st, events, bootstrap.Normalizer(cfg), clients.MercadoLibre, clients.Wix, clients.Falabella).
		WithInvalidator(orderSvc)
	mlStatus := reconcile.NewMLStatusJob(st, clients.MercadoLibre, limiter, events).
		WithRateLimit(int64(cfg.OrderBox.MLRateLimitPerMinute)).
		WithInvalidator(orderSvc)

	app.api = ordersapi.New(ordersapi.Deps{
		Syncer:        sc,
		Orders:        orderSvc,
		Partner:       partner.New(st, clients.Halcon, policy).WithInvalidator(orderSvc),
		MLStatus:      mlStatus,
		PartnerStatus: reconcile.NewPartnerDeliveredJob(st, clients.Halcon, events).WithInvalidator(orderSvc),
		Labels:        clients.MercadoLibre,
		Falabella:     clients.Falabella,
		Events:        st,
		CronSecret:    cfg.Secrets.CronSecret,
	})

	app.opts = orderAPIOpts{
		httpAddr:        cfg.OrderBox.HTTPAddr,
		swaggerPath:     swaggerPath,
		shutdownTimeout: cfg.OrderBox.ShutdownTimeout(),
		topic:           cfg.Kafka.OrderEventsTopicName,
		consumerGroup:   cfg.OrderBox.KafkaConsumerGroup,
	}
	if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 {
		c := kafka.NewConsumer(brokers, app.opts.topic, app.opts.consumerGroup)
		app.closers = append(app.closers, func() { _ = c.Close() })
		app.consumer = c
	}

	logStartup(cfg)
	return app
}

// redisDeps gives the order cache, the ML token store and the shared limiter one client.
func redisDeps(rc *redis.Client) (cache.BytesCache, mercadolibre.TokenStore, reconcile.RateLimiter) {
	c := rediscache.NewWithClient(rc)
	return c, c, rediscache.NewRateLimiterWithClient(rc)
}

func logStartup(cfg *config.Config) {
	slog.Info("orderbox-api configured",
		"http_addr", cfg.OrderBox.HTTPAddr,
		"kafka_brokers", cfg.Kafka.Brokers(),
		"redis_addr", cfg.Redis.Addr(),
		"cron_secret", cfg.Secrets.CronSecret != "")
}

func (a *orderAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *orderAPIApp) Run() error {
	return runOrderAPI(a.ctx, a.opts, a.api, a.consumer)
}
