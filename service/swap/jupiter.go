package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	"github.com/brojonat/lazorpass/service/wallet"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrNoRoute is returned when the aggregator cannot route the requested pair.
var ErrNoRoute = errors.New("no swap route found")

const maxResponseBytes = 1 << 20

// QuoteRequest asks for the best route to trade Amount base units of
// InputMint into OutputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// SwapInfo is one hop of a route.
type SwapInfo struct {
	AMMKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// RouteStep is a hop plus the share of the input it carries.
type RouteStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// Quote is a priced route. The aggregator's original JSON is kept so the
// swap request echoes it back unchanged.
type Quote struct {
	InputMint            string      `json:"inputMint"`
	OutputMint           string      `json:"outputMint"`
	InAmount             uint64      `json:"inAmount,string"`
	OutAmount            uint64      `json:"outAmount,string"`
	OtherAmountThreshold uint64      `json:"otherAmountThreshold,string"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RouteStep `json:"routePlan"`
	ContextSlot          uint64      `json:"contextSlot"`

	raw json.RawMessage
}

// Labels lists the venues the route passes through.
func (q *Quote) Labels() []string {
	labels := make([]string, 0, len(q.RoutePlan))
	for _, step := range q.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}
	return labels
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Client talks to a Jupiter v6 compatible swap API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a swap API client rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// Quote prices a route for req.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if _, err := solanago.PublicKeyFromBase58(req.InputMint); err != nil {
		return nil, fmt.Errorf("%w: input mint %q", wallet.ErrInvalidAddress, req.InputMint)
	}
	if _, err := solanago.PublicKeyFromBase58(req.OutputMint); err != nil {
		return nil, fmt.Errorf("%w: output mint %q", wallet.ErrInvalidAddress, req.OutputMint)
	}
	if req.InputMint == req.OutputMint {
		return nil, fmt.Errorf("%w: input and output mint are the same", wallet.ErrInvalidAddress)
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", wallet.ErrInvalidAmount)
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(httpReq, "quote")
	if err != nil {
		return nil, err
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	quote.raw = body

	c.logger.DebugContext(ctx, "swap quoted",
		"input_mint", quote.InputMint,
		"output_mint", quote.OutputMint,
		"in_amount", quote.InAmount,
		"out_amount", quote.OutAmount,
		"routes", quote.Labels(),
	)
	return &quote, nil
}

// SwapTransaction asks the API to build the transaction that executes quote
// for user and decodes it.
func (c *Client) SwapTransaction(ctx context.Context, quote *Quote, user solanago.PublicKey) (*solanago.Transaction, error) {
	raw := quote.raw
	if len(raw) == 0 {
		b, err := json.Marshal(quote)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal quote: %w", err)
		}
		raw = b
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           raw,
		UserPublicKey:           user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq, "swap")
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	return DecodeTransaction(resp.SwapTransaction)
}

// DecodeTransaction decodes a base64 wire-format transaction.
func DecodeTransaction(encoded string) (*solanago.Transaction, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty swap transaction")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) do(req *http.Request, method string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRPCCall("jupiter_"+method, "error", c.baseURL, time.Since(start).Seconds())
		return nil, &wallet.NetworkError{Cause: fmt.Errorf("%s request failed: %w", method, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordRPCCall("jupiter_"+method, "error", c.baseURL, time.Since(start).Seconds())
		return nil, &wallet.NetworkError{Cause: fmt.Errorf("read %s response: %w", method, err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordRPCCall("jupiter_"+method, "error", c.baseURL, time.Since(start).Seconds())
		return nil, parseError(resp.StatusCode, body)
	}
	c.metrics.RecordRPCCall("jupiter_"+method, "success", c.baseURL, time.Since(start).Seconds())
	return body, nil
}

func parseError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case e.ErrorCode == "COULD_NOT_FIND_ANY_ROUTE" || e.ErrorCode == "TOKEN_NOT_TRADABLE":
		return fmt.Errorf("%w: %s", ErrNoRoute, msg)
	case status >= 500 || status == http.StatusTooManyRequests:
		return &wallet.NetworkError{Cause: fmt.Errorf("swap api status %d: %s", status, msg)}
	default:
		return fmt.Errorf("swap api status %d: %s", status, msg)
	}
}
