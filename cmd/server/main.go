package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"didledger/internal/anchor"
	"didledger/internal/did/handler"
	didmetrics "didledger/internal/did/metrics"
	"didledger/internal/did/service"
	"didledger/internal/platform/config"
	"didledger/internal/platform/httpserver"
	"didledger/internal/platform/logger"
	"didledger/internal/platform/metrics"
	httptransport "didledger/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("didledger stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("didledger stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	auditPublisher, err := buildAudit(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(didmetrics.New(reg)),
		service.WithMethod(cfg.DIDMethod),
	}

	gateway, closeGateway, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	var dispatcher *anchor.Dispatcher
	if gateway != nil {
		dispatcher = newDispatcher(cfg.Anchor, gateway, log, anchor.NewMetrics(reg))
		opts = append(opts, service.WithNotifier(dispatcher))
	}

	svc := service.New(store, opts...)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        metrics.New(reg),
		RequestTimeout: cfg.RequestTimeout,
	}, handler.New(svc, log))
	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting didledger", "addr", cfg.Addr, "store", cfg.Store, "gateway", cfg.Anchor.Gateway)
		return httpserver.Serve(gctx, srv, cfg.ShutdownTimeout)
	})
	if dispatcher != nil {
		// Run makes a bounded drain attempt once gctx is done.
		g.Go(func() error {
			return dispatcher.Run(gctx)
		})
	}
	return g.Wait()
}
