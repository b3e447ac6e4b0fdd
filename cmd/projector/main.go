package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/config"
	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/event"
	"github.com/porterapp/porter/internal/metrics"
	"github.com/porterapp/porter/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting porter projector",
		zap.String("env", cfg.Env),
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group_id", cfg.KafkaGroupID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	partyRepo := db.NewPartyRepository(database, logger)
	projector := event.NewPartyProjector(logger)
	processor := event.NewBatchProcessor(database.Pool(), partyRepo, projector, cfg.KafkaThrottle, logger)

	consumerConfig := event.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaTopic,
		GroupID:       cfg.KafkaGroupID,
		BatchSize:     cfg.KafkaBatchSize,
		FlushInterval: cfg.KafkaFlushInterval,
	}

	group, err := event.NewConsumerGroup(consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	// Start owns the consumer group and closes it on exit.
	consumer := event.NewConsumer(consumerConfig, group, processor, logger)

	// Metrics and health endpoint for the projector process
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	consumerErrors := make(chan error, 1)
	go func() {
		consumerErrors <- consumer.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-consumerErrors:
		if err != nil {
			return fmt.Errorf("consumer error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		if err := <-consumerErrors; err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("consumer stopped with error", zap.Error(err))
		}
	}

	_ = srv.Close()
	logger.Info("projector stopped")
	return nil
}
