package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/api"
	"example.com/biometrics/internal/app"
	"example.com/biometrics/internal/auth"
	"example.com/biometrics/internal/config"
	"example.com/biometrics/internal/observability"
	"example.com/biometrics/internal/outbox"
	httptransport "example.com/biometrics/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger := log.StandardLogger()
	closer, err := observability.ConfigureLogger(logger, observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build services")
	}
	defer components.Close()

	var dispatcher *outbox.Dispatcher
	if pg, ok := components.Postgres(); ok {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, logger)
		defer producer.Close()

		dispatcher = outbox.NewDispatcher(pg.Pool(), producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger))
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(components.Views, components.Refresh, components.Store,
		api.WithLocation(components.Location),
		api.WithLogger(logger),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	// Refreshes run inside the request; a full backfill can take a while.
	serverCfg.WriteTimeout = 0
	server := httptransport.NewServer(serverCfg,
		httptransport.CORS(cfg.CORSOrigin)(httptransport.RequestLogger(logger)(authMiddleware.Wrap(mux))))

	if err := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, logger); err != nil {
		logger.WithError(err).Error("api server stopped")
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
