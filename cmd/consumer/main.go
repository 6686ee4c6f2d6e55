package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/app"
	"example.com/biometrics/internal/config"
	"example.com/biometrics/internal/consumer"
	"example.com/biometrics/internal/events"
	"example.com/biometrics/internal/observability"
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

	metricsCfg := httptransport.DefaultServerConfig(cfg.MetricsAddress)
	metricsSrv := httptransport.NewServer(metricsCfg, promhttp.Handler())
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := httptransport.Serve(ctx, metricsSrv, metricsCfg.ShutdownTimeout, logger); err != nil {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.SyncRequestTopic,
		MinBytes:        1,
		MaxBytes:        1e6,
		CommitInterval:  0,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	defer reader.Close()

	handler := consumer.NewRefreshHandler(components.Refresh, logger)
	proc := consumer.NewProcessor(reader, handler,
		consumer.WithLogger(logger.WithField("topic", cfg.SyncRequestTopic)),
		consumer.WithDefaultEventType(events.SyncRequestedType),
	)

	logger.WithFields(log.Fields{"topic": cfg.SyncRequestTopic, "group": cfg.ConsumerGroupID}).Info("consumer started")
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("consumer stopped with error")
	}
	logger.Info("consumer shutdown requested")
	stop()
	<-metricsDone
}
