package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/lazorpass/service/config"
	"github.com/brojonat/lazorpass/service/db"
	"github.com/brojonat/lazorpass/service/metrics"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// A transaction the cluster still has not seen this long after
	// submission was dropped; its blockhash expired long ago.
	expireAfter = 10 * time.Minute

	reconcileLimit = 10000
)

// reconcile resolves journaled transfer records left pending by a server
// that stopped before their confirmation finished.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting transfer reconciliation")

	// Load configuration
	cfg := config.MustLoad()
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Connect to database
	ctx := context.Background()
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
	logger.Info("connected to database")

	store := db.NewStore(dbPool, cfg.SolanaNetwork)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	// Metrics go to a private registry; nothing scrapes a one-shot job.
	chain := solana.NewClient(
		solana.NewRPCClient(rpcURL),
		solana.EndpointLabel(rpcURL),
		metrics.NewMetrics(prometheus.NewRegistry()),
		logger,
	)

	pending, err := store.LoadPending(ctx, reconcileLimit)
	if err != nil {
		logger.Error("failed to load pending records", "error", err)
		os.Exit(1)
	}
	logger.Info("found pending records", "pending", len(pending))

	resolved := 0
	expired := 0
	errorCount := 0

	for _, rec := range pending {
		sig, err := solanago.SignatureFromBase58(rec.Signature)
		if err != nil {
			logger.Error("failed to parse signature", "signature", rec.Signature, "error", err)
			errorCount++
			continue
		}

		st, err := chain.SignatureStatus(ctx, sig)
		if err != nil {
			logger.Error("failed to fetch signature status", "signature", rec.Signature, "error", err)
			errorCount++
			continue
		}

		status, reason := transfer.StatusFromChain(st)
		if status == transfer.StatusPending {
			if st.Found || time.Since(rec.SubmittedAt) < expireAfter {
				logger.Info("still pending", "signature", rec.Signature, "found", st.Found)
				continue
			}
			status = transfer.StatusFailed
			reason = "transaction expired before it was confirmed"
			expired++
		}

		rec.Status = status
		rec.Error = reason
		rec.Slot = st.Slot
		rec.UpdatedAt = time.Now()
		if err := store.SaveRecord(ctx, rec); err != nil {
			logger.Error("failed to save record", "signature", rec.Signature, "error", err)
			errorCount++
			continue
		}

		logger.Info("resolved record",
			"signature", rec.Signature,
			"status", rec.Status,
			"slot", rec.Slot,
		)
		resolved++
	}

	logger.Info("reconciliation complete",
		"pending", len(pending),
		"resolved", resolved,
		"expired", expired,
		"errors", errorCount,
	)

	if errorCount > 0 {
		os.Exit(1)
	}
}
