package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Identity is the passkey wallet the server is connected to.
type Identity struct {
	Address      string    `json:"address"`
	RawPublicKey []byte    `json:"raw_public_key"`
	CredentialID string    `json:"credential_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Session is the server's connection state.
type Session struct {
	State         string    `json:"state"` // disconnected, connecting, connected
	Identity      *Identity `json:"identity,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorCode string    `json:"last_error_code,omitempty"`
}

// Connected reports whether the session holds an identity.
func (s *Session) Connected() bool {
	return s.State == "connected" && s.Identity != nil
}

// ConnectRequest describes a passkey connect the user has to finish in the
// portal.
type ConnectRequest struct {
	RequestID  string    `json:"request_id"`
	PortalURL  string    `json:"portal_url"`
	QRCodeData string    `json:"qr_code_data,omitempty"` // base64 PNG
	Deadline   time.Time `json:"deadline"`
}

// TokenBalance is a wallet's balance of one SPL token.
type TokenBalance struct {
	Symbol   string  `json:"symbol"`
	Mint     string  `json:"mint"`
	Account  string  `json:"account"`
	Amount   uint64  `json:"amount"`
	UIAmount float64 `json:"ui_amount"`
	Decimals uint8   `json:"decimals"`
}

// Balance is the connected wallet's SOL balance and, optionally, one token.
type Balance struct {
	Address  string        `json:"address"`
	Lamports uint64        `json:"lamports"`
	SOL      float64       `json:"sol"`
	Token    *TokenBalance `json:"token,omitempty"`
}

// Transfer is a submitted transfer or swap and its confirmation status.
type Transfer struct {
	Signature   string    `json:"signature"`
	Kind        string    `json:"kind"`
	From        string    `json:"from"`
	To          string    `json:"to,omitempty"`
	Amount      uint64    `json:"amount"`
	UIAmount    float64   `json:"ui_amount"`
	Token       string    `json:"token"`
	Mint        string    `json:"mint,omitempty"`
	Signer      string    `json:"signer"`
	Status      string    `json:"status"` // pending, confirmed, failed
	Error       string    `json:"error,omitempty"`
	Slot        uint64    `json:"slot,omitempty"`
	ExplorerURL string    `json:"explorer_url"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Settled reports whether the transfer reached a final status.
func (t *Transfer) Settled() bool {
	return t.Status == "confirmed" || t.Status == "failed"
}

// Quote is a priced swap route.
type Quote struct {
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

// HistoryEntry is a transaction from the connected wallet's chain history.
type HistoryEntry struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"block_time"`
	Amount      uint64    `json:"amount"`
	TokenMint   *string   `json:"token_mint,omitempty"`
	Memo        *string   `json:"memo,omitempty"`
	FromAddress *string   `json:"from_address,omitempty"`
	ToAddress   *string   `json:"to_address,omitempty"`
	Err         *string   `json:"error,omitempty"`
}

// Health is the server's health report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Network string `json:"network"`
	Signer  string `json:"signer"`
}

// APIError is a non-success response from the server. Code is the stable
// error code (e.g. "not_connected", "invalid_amount") when the server sent
// one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Client is the HTTP client for the lazorpass wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Connect starts a passkey connect. The user finishes it by opening the
// returned portal URL; poll Session or call WaitConnected for the outcome.
func (c *Client) Connect(ctx context.Context) (*ConnectRequest, error) {
	var out ConnectRequest
	if err := c.do(ctx, "POST", "/api/v1/session/connect", nil, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("connect started", "request_id", out.RequestID, "deadline", out.Deadline)
	return &out, nil
}

// Session returns the server's connection state.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.do(ctx, "GET", "/api/v1/session", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitConnected polls the session until the pending connect resolves. A
// failed connect is returned as an *APIError carrying the session's error
// code.
func (c *Client) WaitConnected(ctx context.Context, interval time.Duration) (*Session, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := c.Session(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case s.Connected() && s.LastError == "":
			return s, nil
		case s.State != "connecting":
			// A failed reconnect leaves the earlier identity in place but
			// still reports the failure.
			msg := s.LastError
			if msg == "" {
				msg = "connect did not complete"
			}
			return s, &APIError{StatusCode: http.StatusOK, Code: s.LastErrorCode, Message: msg}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect clears the server's wallet identity.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.do(ctx, "DELETE", "/api/v1/session", nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("wallet disconnected")
	return nil
}

// Balance returns the connected wallet's balances. token is optional: SOL,
// USDC, or a mint address.
func (c *Client) Balance(ctx context.Context, token string) (*Balance, error) {
	path := "/api/v1/balance"
	if token != "" {
		path += "?token=" + url.QueryEscape(token)
	}
	var out Balance
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendTransfer submits a transfer of amount (in whole tokens) to the given
// address. The returned transfer is pending.
func (c *Client) SendTransfer(ctx context.Context, to string, amount float64, token string) (*Transfer, error) {
	body := map[string]interface{}{
		"to":     to,
		"amount": amount,
		"token":  token,
	}
	var out Transfer
	if err := c.do(ctx, "POST", "/api/v1/transfers", body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer submitted", "signature", out.Signature, "to", to, "amount", amount, "token", token)
	return &out, nil
}

// GetTransfer returns the transfer with the given signature.
func (c *Client) GetTransfer(ctx context.Context, signature string) (*Transfer, error) {
	var out Transfer
	if err := c.do(ctx, "GET", "/api/v1/transfers/"+url.PathEscape(signature), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTransfers lists submitted transfers, newest first. An empty wallet
// means the connected wallet.
func (c *Client) ListTransfers(ctx context.Context, wallet string) ([]*Transfer, error) {
	path := "/api/v1/transfers"
	if wallet != "" {
		path += "?wallet=" + url.QueryEscape(wallet)
	}
	var out struct {
		Transfers []*Transfer `json:"transfers"`
		Count     int         `json:"count"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Transfers, nil
}

// AwaitTransfer polls a transfer until it settles or ctx is done. On ctx
// expiry the last seen (pending) transfer is returned with the ctx error.
func (c *Client) AwaitTransfer(ctx context.Context, signature string, interval time.Duration) (*Transfer, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Transfer
	for {
		t, err := c.GetTransfer(ctx, signature)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		last = t
		if t.Settled() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SwapQuote prices a swap without submitting it. slippageBps < 0 uses the
// server default.
func (c *Client) SwapQuote(ctx context.Context, from, to string, amount float64, slippageBps int) (*Quote, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	if slippageBps >= 0 {
		q.Set("slippage_bps", strconv.Itoa(slippageBps))
	}
	var out Quote
	if err := c.do(ctx, "GET", "/api/v1/swap/quote?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Swap quotes and submits a swap from the connected wallet. slippageBps < 0
// uses the server default.
func (c *Client) Swap(ctx context.Context, from, to string, amount float64, slippageBps int) (*Transfer, error) {
	body := map[string]interface{}{
		"from":   from,
		"to":     to,
		"amount": amount,
	}
	if slippageBps >= 0 {
		body["slippage_bps"] = slippageBps
	}
	var out Transfer
	if err := c.do(ctx, "POST", "/api/v1/swaps", body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("swap submitted", "signature", out.Signature, "from", from, "to", to, "amount", amount)
	return &out, nil
}

// History returns up to limit recent transactions of the connected wallet.
// limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	path := "/api/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []*HistoryEntry `json:"transactions"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "GET", "/health", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends a request with an optional JSON body and decodes a JSON response
// into out when the status matches want.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts an error message from an HTTP error response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
}
