package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	ordersapi "github.com/BearBump/OrderBox/internal/api/orders_api"
	"github.com/BearBump/OrderBox/internal/broker/kafka"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type orderAPIOpts struct {
	httpAddr        string
	swaggerPath     string
	shutdownTimeout time.Duration

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeOrderEvents(ctx context.Context, handle kafka.OrderEventHandler) error
}

const consumerRetry = 2 * time.Second

// runOrderAPI serves HTTP until ctx is done. consumer may be nil when kafka is off.
func runOrderAPI(ctx context.Context, opts orderAPIOpts, api *ordersapi.API, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, api, opts)
	}()

	if consumer != nil {
		go consumeEvents(ctx, opts, api, consumer)
	}

	err = <-httpErr
	if ctx.Err() != nil {
		api.Wait()
		return ctx.Err()
	}
	return err
}

func consumeEvents(ctx context.Context, opts orderAPIOpts, api *ordersapi.API, consumer kafkaConsumer) {
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
	for {
		err := consumer.ConsumeOrderEvents(ctx, api.HandleOrderEvent)
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer stopped, restarting", "error", fmt.Sprint(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerRetry):
		}
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *ordersapi.API, opts orderAPIOpts) error {
	r := chi.NewRouter()
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	r.Mount("/", api.Handler())

	timeout := opts.shutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
