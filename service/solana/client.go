package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the subset of Solana RPC operations we need.
// It lets tests mock the RPC layer without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client provides wallet-level Solana operations on top of an RPCClient.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // identifier for metrics labels (e.g. "devnet")

	// historyDelay spaces out GetTransaction calls to respect public RPC rate limits.
	historyDelay time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling. If m is nil, no
// metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		historyDelay: 250 * time.Millisecond,
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// Balance returns the lamport balance of owner.
func (c *Client) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	c.observe("getBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("get balance for %s: %w", owner, err)
	}
	return out.Value, nil
}

// TokenBalance returns owner's balance of mint held in its associated token
// account. A missing token account yields a zero balance.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (*TokenBalance, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}
	bal := &TokenBalance{Mint: mint.String(), Account: ata.String()}

	exists, err := c.AccountExists(ctx, ata)
	if err != nil {
		return nil, err
	}
	if !exists {
		decimals, err := c.MintDecimals(ctx, mint)
		if err != nil {
			return nil, err
		}
		bal.Decimals = decimals
		return bal, nil
	}

	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	c.observe("getTokenAccountBalance", start, err)
	if err != nil {
		return nil, fmt.Errorf("get token balance for %s: %w", ata, err)
	}
	if out.Value == nil {
		return bal, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	bal.Amount = amount
	bal.Decimals = out.Value.Decimals
	return bal, nil
}

// LatestBlockhash returns the most recent blockhash at confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.observe("getLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

// AccountExists reports whether account is present on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		c.observe("getAccountInfo", start, nil)
		return false, nil
	}
	c.observe("getAccountInfo", start, err)
	if err != nil {
		return false, fmt.Errorf("get account info for %s: %w", account, err)
	}
	return out != nil && out.Value != nil, nil
}

// MintDecimals returns the decimals configured on an SPL token mint.
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	c.observe("getTokenSupply", start, err)
	if err != nil {
		return 0, fmt.Errorf("get token supply for %s: %w", mint, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("get token supply for %s: empty response", mint)
	}
	return out.Value.Decimals, nil
}

// SignatureStatus looks up the confirmation status of sig.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.observe("getSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("get signature status for %s: %w", sig, err)
	}

	status := &SignatureStatus{}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}
	v := out.Value[0]
	status.Found = true
	status.Slot = v.Slot
	status.ConfirmationStatus = string(v.ConfirmationStatus)
	if v.Err != nil {
		msg := fmt.Sprintf("%v", v.Err)
		status.Err = &msg
	}
	return status, nil
}

// SendTransaction submits a fully signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx)
	c.observe("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// RecentTransactions returns up to limit parsed transactions touching wallet,
// newest first. Transactions whose details cannot be fetched are returned
// with signature metadata only.
func (c *Client) RecentTransactions(ctx context.Context, wallet solana.PublicKey, limit int) ([]*Transaction, error) {
	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, wallet, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	c.observe("getSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", wallet.String(),
			"error", err,
		)
		return nil, fmt.Errorf("get signatures for %s: %w", wallet, err)
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", wallet.String(),
		"count", len(signatures),
	)

	transactions := make([]*Transaction, 0, len(signatures))
	for i, sig := range signatures {
		if i > 0 && c.historyDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.historyDelay):
			}
		}

		result, err := c.fetchTransaction(ctx, sig.Signature)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to get transaction details, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}

		txn, err := parseTransactionFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}
		transactions = append(transactions, txn)
	}

	return transactions, nil
}

// fetchTransaction gets full transaction details, backing off on rate limits.
func (c *Client) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := range maxAttempts {
		start := time.Now()
		result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		c.observe("getTransaction", start, err)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !strings.Contains(err.Error(), "429") {
			return nil, err
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"signature", sig.String(),
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}
