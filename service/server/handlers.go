package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/lazorpass/service/portal"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/swap"
	"github.com/brojonat/lazorpass/service/transfer"
	"github.com/brojonat/lazorpass/service/wallet"
)

const (
	maxRequestBodySize  = 1 << 16 // transfer and swap requests are tiny
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

type connectResponse struct {
	RequestID  string    `json:"request_id"`
	PortalURL  string    `json:"portal_url"`
	QRCodeData string    `json:"qr_code_data,omitempty"` // base64 PNG of portal_url
	Deadline   time.Time `json:"deadline"`
}

type sessionResponse struct {
	State         wallet.State     `json:"state"`
	Identity      *wallet.Identity `json:"identity,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorCode string           `json:"last_error_code,omitempty"`
}

type tokenBalanceResponse struct {
	Symbol   string  `json:"symbol"`
	Mint     string  `json:"mint"`
	Account  string  `json:"account"`
	Amount   uint64  `json:"amount"`
	UIAmount float64 `json:"ui_amount"`
	Decimals uint8   `json:"decimals"`
}

type balanceResponse struct {
	Address  string                `json:"address"`
	Lamports uint64                `json:"lamports"`
	SOL      float64               `json:"sol"`
	Token    *tokenBalanceResponse `json:"token,omitempty"`
}

type transferRequest struct {
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	Token  string  `json:"token"`
}

type swapRequest struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	SlippageBps *int    `json:"slippage_bps,omitempty"`
}

type quoteResponse struct {
	InputMint      string   `json:"input_mint"`
	OutputMint     string   `json:"output_mint"`
	InAmount       uint64   `json:"in_amount"`
	OutAmount      uint64   `json:"out_amount"`
	MinOutAmount   uint64   `json:"min_out_amount"`
	UIInAmount     float64  `json:"ui_in_amount"`
	UIOutAmount    float64  `json:"ui_out_amount"`
	PriceImpactPct string   `json:"price_impact_pct"`
	SlippageBps    int      `json:"slippage_bps"`
	Routes         []string `json:"routes"`
}

// handleConnect starts a passkey connect and returns immediately with the
// portal link. The handshake finishes in the background; poll the session.
// POST /api/v1/session/connect
func handleConnect(bg context.Context, wg *sync.WaitGroup, session *wallet.Session, connector *portal.Connector, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pending, err := connector.Begin(r.Context(), session)
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}

		qr, err := portal.QRCodeBase64(pending.Request.PortalURL)
		if err != nil {
			logger.Warn("failed to render portal QR code", "request_id", pending.Request.ID, "error", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			// Outcome lands on the session; errors are logged by the connector.
			_, _ = pending.Wait(bg)
		}()

		writeJSON(w, connectResponse{
			RequestID:  pending.Request.ID,
			PortalURL:  pending.Request.PortalURL,
			QRCodeData: qr,
			Deadline:   pending.Request.Deadline,
		}, http.StatusAccepted)
	})
}

// handleGetSession reports the connection state.
// GET /api/v1/session
func handleGetSession(session *wallet.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, id, lastErr := session.Snapshot()
		resp := sessionResponse{State: state, Identity: id}
		if lastErr != nil {
			resp.LastError = lastErr.Error()
			resp.LastErrorCode = wallet.Code(lastErr)
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleDisconnect clears the session identity.
// DELETE /api/v1/session
func handleDisconnect(session *wallet.Session, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session.Disconnect()
		logger.Info("wallet disconnected")
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleBalance returns the connected wallet's SOL balance and, when token
// is given, its balance of that token.
// GET /api/v1/balance?token={SOL|USDC|mint}
func handleBalance(session *wallet.Session, submitter *transfer.Submitter, chain ChainReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := session.Identity()
		if id == nil {
			writeWalletError(w, wallet.ErrNotConnected, logger)
			return
		}
		owner := id.PublicKey()

		lamports, err := chain.Balance(r.Context(), owner)
		if err != nil {
			writeWalletError(w, &wallet.NetworkError{Cause: err}, logger)
			return
		}
		resp := balanceResponse{
			Address:  id.Address,
			Lamports: lamports,
			SOL:      transfer.FromBaseUnits(lamports, 9),
		}

		if kind := r.URL.Query().Get("token"); kind != "" {
			tok, err := submitter.ResolveToken(r.Context(), kind)
			if err != nil {
				writeWalletError(w, err, logger)
				return
			}
			if !tok.IsNative() {
				bal, err := chain.TokenBalance(r.Context(), owner, *tok.Mint)
				if err != nil {
					writeWalletError(w, &wallet.NetworkError{Cause: err}, logger)
					return
				}
				resp.Token = &tokenBalanceResponse{
					Symbol:   tok.Symbol,
					Mint:     bal.Mint,
					Account:  bal.Account,
					Amount:   bal.Amount,
					UIAmount: transfer.FromBaseUnits(bal.Amount, bal.Decimals),
					Decimals: bal.Decimals,
				}
			}
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleHistory lists recent transfers touching the connected wallet, parsed
// from chain history.
// GET /api/v1/history?limit={n}
func handleHistory(session *wallet.Session, chain ChainReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := session.Identity()
		if id == nil {
			writeWalletError(w, wallet.ErrNotConnected, logger)
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxHistoryLimit {
				writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
				return
			}
			limit = n
		}

		txns, err := chain.RecentTransactions(r.Context(), id.PublicKey(), limit)
		if err != nil {
			writeWalletError(w, &wallet.NetworkError{Cause: err}, logger)
			return
		}
		if txns == nil {
			txns = []*solana.Transaction{}
		}

		writeJSON(w, map[string]interface{}{
			"address":      id.Address,
			"transactions": txns,
			"count":        len(txns),
		}, http.StatusOK)
	})
}

// handleSubmitTransfer submits a transfer from the connected wallet and
// starts tracking its confirmation. The returned record is pending.
// POST /api/v1/transfers
func handleSubmitTransfer(session *wallet.Session, submitter *transfer.Submitter, tracker transfer.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		rec, err := submitter.SubmitTransfer(r.Context(), session, req.To, req.Amount, req.Token)
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}
		track(r.Context(), tracker, rec, logger)

		writeJSON(w, rec, http.StatusCreated)
	})
}

// handleListTransfers lists submitted records for a wallet, newest first.
// Without ?wallet= the connected wallet is used, or every record when
// disconnected.
// GET /api/v1/transfers?wallet={address}
func handleListTransfers(session *wallet.Session, submitter *transfer.Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("wallet")
		if address == "" {
			if id := session.Identity(); id != nil {
				address = id.Address
			}
		}

		records := submitter.List(address)
		if records == nil {
			records = []*transfer.Record{}
		}
		writeJSON(w, map[string]interface{}{
			"transfers": records,
			"count":     len(records),
		}, http.StatusOK)
	})
}

// handleGetTransfer returns one record by signature.
// GET /api/v1/transfers/{signature}
func handleGetTransfer(submitter *transfer.Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := submitter.Get(r.PathValue("signature"))
		if !ok {
			writeError(w, "transfer not found", http.StatusNotFound)
			return
		}
		writeJSON(w, rec, http.StatusOK)
	})
}

// handleSwapQuote prices a swap without submitting anything.
// GET /api/v1/swap/quote?from=&to=&amount=&slippage_bps=
func handleSwapQuote(submitter *transfer.Submitter, swapper Swapper, defaultSlippage int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := swapRequest{From: q.Get("from"), To: q.Get("to")}

		amount, err := strconv.ParseFloat(q.Get("amount"), 64)
		if err != nil {
			writeWalletError(w, fmt.Errorf("%w: %q", wallet.ErrInvalidAmount, q.Get("amount")), logger)
			return
		}
		req.Amount = amount
		if raw := q.Get("slippage_bps"); raw != "" {
			bps, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, "slippage_bps must be an integer", http.StatusBadRequest)
				return
			}
			req.SlippageBps = &bps
		}

		quote, from, to, err := quoteSwap(r.Context(), submitter, swapper, req, defaultSlippage)
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}

		writeJSON(w, quoteResponse{
			InputMint:      quote.InputMint,
			OutputMint:     quote.OutputMint,
			InAmount:       quote.InAmount,
			OutAmount:      quote.OutAmount,
			MinOutAmount:   quote.OtherAmountThreshold,
			UIInAmount:     transfer.FromBaseUnits(quote.InAmount, from.Decimals),
			UIOutAmount:    transfer.FromBaseUnits(quote.OutAmount, to.Decimals),
			PriceImpactPct: quote.PriceImpactPct,
			SlippageBps:    quote.SlippageBps,
			Routes:         quote.Labels(),
		}, http.StatusOK)
	})
}

// handleSubmitSwap quotes, builds, and submits a swap from the connected
// wallet.
// POST /api/v1/swaps
func handleSubmitSwap(session *wallet.Session, submitter *transfer.Submitter, swapper Swapper, tracker transfer.Tracker, defaultSlippage int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req swapRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		id := session.Identity()
		if id == nil {
			writeWalletError(w, wallet.ErrNotConnected, logger)
			return
		}

		quote, _, _, err := quoteSwap(r.Context(), submitter, swapper, req, defaultSlippage)
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}

		tx, err := swapper.SwapTransaction(r.Context(), quote, id.PublicKey())
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}

		rec, err := submitter.SubmitSwap(r.Context(), session, transfer.Swap{
			Transaction: tx,
			InputMint:   quote.InputMint,
			OutputMint:  quote.OutputMint,
			InAmount:    quote.InAmount,
			OutAmount:   quote.OutAmount,
		})
		if err != nil {
			writeWalletError(w, err, logger)
			return
		}
		track(r.Context(), tracker, rec, logger)

		writeJSON(w, rec, http.StatusCreated)
	})
}

func quoteSwap(ctx context.Context, submitter *transfer.Submitter, swapper Swapper, req swapRequest, defaultSlippage int) (*swap.Quote, transfer.Token, transfer.Token, error) {
	var none transfer.Token
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		return nil, none, none, fmt.Errorf("%w: from and to are required", wallet.ErrInvalidAddress)
	}
	slippage := defaultSlippage
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}
	if slippage < 0 || slippage > 10000 {
		return nil, none, none, fmt.Errorf("%w: slippage_bps must be between 0 and 10000", wallet.ErrInvalidAmount)
	}

	from, err := submitter.ResolveToken(ctx, req.From)
	if err != nil {
		return nil, none, none, err
	}
	to, err := submitter.ResolveToken(ctx, req.To)
	if err != nil {
		return nil, none, none, err
	}
	units, err := transfer.ToBaseUnits(req.Amount, from.Decimals)
	if err != nil {
		return nil, none, none, err
	}

	quote, err := swapper.Quote(ctx, swap.QuoteRequest{
		InputMint:   from.SwapMint().String(),
		OutputMint:  to.SwapMint().String(),
		Amount:      units,
		SlippageBps: slippage,
	})
	if err != nil {
		return nil, none, none, err
	}
	return quote, from, to, nil
}

// track hands rec to the tracker. A tracking failure leaves the record
// pending; the submission itself already succeeded.
func track(ctx context.Context, tracker transfer.Tracker, rec *transfer.Record, logger *slog.Logger) {
	if tracker == nil {
		return
	}
	if err := tracker.Track(ctx, rec); err != nil {
		logger.WarnContext(ctx, "failed to track transaction confirmation",
			"signature", rec.Signature,
			"error", err,
		)
	}
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeWalletError writes err with its stable code and a matching status.
// Unclassified errors are logged and reported as internal.
func writeWalletError(w http.ResponseWriter, err error, logger *slog.Logger) {
	code := wallet.Code(err)
	if errors.Is(err, swap.ErrNoRoute) {
		code = "no_route"
	}
	status := statusForCode(code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

func statusForCode(code string) int {
	switch code {
	case "invalid_address", "invalid_amount":
		return http.StatusBadRequest
	case "not_connected", "authentication_failed", "authentication_cancelled":
		return http.StatusUnauthorized
	case "signing_rejected":
		return http.StatusForbidden
	case "in_progress":
		return http.StatusConflict
	case "insufficient_funds", "no_route":
		return http.StatusUnprocessableEntity
	case "network_error":
		return http.StatusBadGateway
	case "authentication_timeout", "confirmation_timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
