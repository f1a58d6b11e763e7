package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/lazorpass/service/config"
	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The worker runs confirmation workflows started by the API server and
// reports their results back over NATS.
func main() {
	cfg := config.MustLoad()
	logger := cfg.NewLogger(os.Stderr)

	if !cfg.TemporalEnabled() {
		logger.Error("TEMPORAL_HOST is required to run the worker")
		os.Exit(1)
	}

	metricsCollector := metrics.NewMetrics(nil)
	stopMetrics := serveMetrics(cfg.MetricsAddr, logger)
	defer stopMetrics()

	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	endpoint := solana.EndpointLabel(rpcURL)
	chain := solana.NewClient(solana.NewRPCClient(rpcURL), endpoint, metricsCollector, logger)

	// Validate guarantees NATS_URL accompanies TEMPORAL_HOST.
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Chain:             chain,
		Publisher:         publisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("worker starting",
		"network", cfg.SolanaNetwork,
		"rpc_endpoint", endpoint,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
		"nats_url", cfg.NATSURL,
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("temporal worker error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
	}
	logger.Info("shutdown complete")
}

// serveMetrics exposes Prometheus metrics on addr until the returned
// function is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}
}
