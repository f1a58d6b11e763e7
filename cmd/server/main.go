package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/lazorpass/service/config"
	"github.com/brojonat/lazorpass/service/db"
	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/portal"
	"github.com/brojonat/lazorpass/service/server"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/swap"
	"github.com/brojonat/lazorpass/service/temporal"
	"github.com/brojonat/lazorpass/service/transfer"
	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
)

var version = "dev"

// restoreLimit bounds how many journaled records are loaded at startup.
const restoreLimit = 1000

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := cfg.NewLogger(os.Stderr)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"signer_mode", cfg.SignerMode,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	endpoint := solana.EndpointLabel(rpcURL)
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), endpoint, metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", endpoint,
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	// Signing capability is fixed for the life of the process
	signer, err := transfer.NewSigner(cfg, solanaClient, logger)
	if err != nil {
		logger.Error("failed to create signer", "error", err)
		os.Exit(1)
	}

	// Without NATS, status events stay on an in-process bus.
	var (
		publisher transfer.EventPublisher
		events    server.EventStream
	)
	if cfg.NATSURL == "" {
		bus := natspkg.NewMemoryBus()
		publisher = bus
		events = bus
	} else {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()

		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()

		publisher = natsPublisher
		events = subscriber
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Transfer records live in memory; a database journal makes them
	// survive restarts.
	records := transfer.NewStore()
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		// Verify database connection
		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		journal := db.NewStore(dbPool, cfg.SolanaNetwork)
		if err := journal.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		restored, err := journal.LoadRecords(ctx, restoreLimit)
		if err != nil {
			logger.Error("failed to load transfer records", "error", err)
			os.Exit(1)
		}
		// Pending records older than the restore window still need tracking.
		pending, err := journal.LoadPending(ctx, restoreLimit)
		if err != nil {
			logger.Error("failed to load pending transfer records", "error", err)
			os.Exit(1)
		}
		cancel()

		records.Restore(restored)
		records.Restore(pending)
		records.WithJournal(journal, logger)
		logger.Info("connected to database",
			"restored_records", len(restored),
			"pending_records", len(pending),
		)
	}

	submitter := transfer.NewSubmitter(solanaClient, signer, records, transfer.Options{
		Network:             cfg.SolanaNetwork,
		USDCMint:            solanago.MustPublicKeyFromBase58(cfg.USDCMintAddress),
		ConfirmPollInterval: cfg.ConfirmPollInterval,
		Publisher:           publisher,
	}, metricsCollector, logger)

	// Confirmation tracking: durable workflows when Temporal is configured,
	// otherwise background polling in this process.
	var tracker transfer.Tracker
	localTracker := transfer.NewLocalTracker(submitter, cfg.ConfirmTimeout, logger)
	tracker = localTracker
	if cfg.TemporalEnabled() {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			cfg.ConfirmTimeout,
			cfg.ConfirmPollInterval,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		tracker = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	}

	// Records still pending from a previous run resume confirmation.
	for _, rec := range records.Pending() {
		if err := tracker.Track(context.Background(), rec); err != nil {
			logger.Warn("failed to resume confirmation", "signature", rec.Signature, "error", err)
		}
	}

	// Passkey connect: the bridge serves portal callbacks on this server
	bridge, err := portal.NewBridge(cfg.PortalURL, cfg.PublicURL, cfg.HeartbeatTimeout, cfg.OpenBrowser, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create portal bridge", "error", err)
		os.Exit(1)
	}
	connector, err := portal.NewConnector(bridge, cfg.PortalURL, cfg.ConnectTimeout, cfg.WindowPollInterval, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create connector", "error", err)
		os.Exit(1)
	}

	deps := server.Deps{
		Session:   wallet.NewSession(),
		Connector: connector,
		Bridge:    bridge,
		Submitter: submitter,
		Tracker:   tracker,
		Chain:     solanaClient,
		Events:    events,
	}
	if cfg.JupiterAPIURL != "" {
		deps.Swapper = swap.NewClient(cfg.JupiterAPIURL, &http.Client{Timeout: 15 * time.Second}, metricsCollector, logger)
	}

	// Initialize HTTP server
	httpServer := server.New(cfg, deps, version, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"public_url", cfg.PublicURL,
		"portal_url", cfg.PortalURL,
		"nats_enabled", cfg.NATSURL != "",
		"temporal_enabled", cfg.TemporalEnabled(),
		"swaps_enabled", deps.Swapper != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		// In-flight local confirmations finish or time out on their own.
		done := make(chan struct{})
		go func() {
			localTracker.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("pending confirmations abandoned at shutdown")
		}

		logger.Info("server shutdown complete")
	}
}
