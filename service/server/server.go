package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/lazorpass/service/config"
	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/portal"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/swap"
	"github.com/brojonat/lazorpass/service/transfer"
	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainReader is the read-only chain access the API needs.
type ChainReader interface {
	Balance(ctx context.Context, owner solanago.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (*solana.TokenBalance, error)
	RecentTransactions(ctx context.Context, owner solanago.PublicKey, limit int) ([]*solana.Transaction, error)
}

// Swapper quotes and builds swap transactions.
type Swapper interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error)
	SwapTransaction(ctx context.Context, quote *swap.Quote, user solanago.PublicKey) (*solanago.Transaction, error)
}

// EventStream delivers transfer events for a wallet until ctx is done.
type EventStream interface {
	Consume(ctx context.Context, wallet string, handle func(*natspkg.TransferEvent)) error
}

// Deps are the collaborators the server routes requests to. Swapper and
// Events are optional; their routes are disabled when nil.
type Deps struct {
	Session   *wallet.Session
	Connector *portal.Connector
	Bridge    *portal.Bridge
	Submitter *transfer.Submitter
	Tracker   transfer.Tracker
	Chain     ChainReader
	Swapper   Swapper
	Events    EventStream
}

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Deps
	version string
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server

	// bg outlives individual requests: background connects and the status
	// consumer run under it until Shutdown.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(cfg *config.Config, deps Deps, version string, m *metrics.Metrics, logger *slog.Logger) *Server {
	bg, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    cfg.ServerAddr,
		cfg:     cfg,
		deps:    deps,
		version: version,
		metrics: m,
		logger:  logger,
		bg:      bg,
		cancel:  cancel,
	}
}

// Handler builds the routed handler. Start serves it; tests call it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	d := s.deps

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session routes
	route("POST /api/v1/session/connect", "/api/v1/session/connect", handleConnect(s.bg, &s.wg, d.Session, d.Connector, s.logger))
	route("GET /api/v1/session", "/api/v1/session", handleGetSession(d.Session))
	route("DELETE /api/v1/session", "/api/v1/session", handleDisconnect(d.Session, s.logger))

	// Wallet routes
	route("GET /api/v1/balance", "/api/v1/balance", handleBalance(d.Session, d.Submitter, d.Chain, s.logger))
	route("GET /api/v1/history", "/api/v1/history", handleHistory(d.Session, d.Chain, s.logger))

	// Transfer routes
	route("POST /api/v1/transfers", "/api/v1/transfers", handleSubmitTransfer(d.Session, d.Submitter, d.Tracker, s.logger))
	route("GET /api/v1/transfers", "/api/v1/transfers", handleListTransfers(d.Session, d.Submitter))
	route("GET /api/v1/transfers/{signature}", "/api/v1/transfers/{signature}", handleGetTransfer(d.Submitter))

	if d.Swapper != nil {
		route("GET /api/v1/swap/quote", "/api/v1/swap/quote", handleSwapQuote(d.Submitter, d.Swapper, s.cfg.DefaultSlippageBps, s.logger))
		route("POST /api/v1/swaps", "/api/v1/swaps", handleSubmitSwap(d.Session, d.Submitter, d.Swapper, d.Tracker, s.cfg.DefaultSlippageBps, s.logger))
	} else {
		s.logger.Warn("swap API not configured, swap endpoints disabled")
	}

	// SSE streaming endpoints (if an event stream is configured)
	if d.Events != nil {
		route("GET /api/v1/stream/transfers/{address}", "/api/v1/stream/transfers", handleStreamTransfers(d.Events, s.metrics, s.logger))
		route("GET /api/v1/stream/transfers", "/api/v1/stream/transfers", handleStreamTransfers(d.Events, s.metrics, s.logger))
	} else {
		s.logger.Warn("event stream not configured, streaming endpoints disabled")
	}

	// Portal callbacks carry their own origin checks and CORS headers.
	if d.Bridge != nil {
		mux.Handle("/portal/", d.Bridge)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":  "ok",
			"version": s.version,
			"network": s.cfg.SolanaNetwork,
			"signer":  d.Submitter.SignerMode(),
		}, http.StatusOK)
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the status consumer and the HTTP server. It blocks until the
// server stops.
func (s *Server) Start() error {
	if s.deps.Events != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			consumeStatusEvents(s.bg, s.deps.Events, s.deps.Submitter, s.logger)
		}()
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown cancels background work, waits for it, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background work did not finish before shutdown deadline")
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to API responses and handles OPTIONS
// preflight requests. Portal routes are passed through untouched.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/portal/") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
