package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// rpcCaller is the part of the JSON-RPC client the paymaster uses.
type rpcCaller interface {
	CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error
}

// PaymasterSigner sponsors fees through a Kora paymaster. Kora signs as fee
// payer and broadcasts the transaction itself.
type PaymasterSigner struct {
	rpc    rpcCaller
	logger *slog.Logger

	mu    sync.Mutex
	payer *solanago.PublicKey
}

// NewPaymasterSigner creates a signer for the Kora JSON-RPC endpoint at url.
func NewPaymasterSigner(url string, logger *slog.Logger) *PaymasterSigner {
	return &PaymasterSigner{
		rpc:    jsonrpc.NewClient(url),
		logger: logger,
	}
}

type payerSignerResult struct {
	SignerAddress  string `json:"signer_address"`
	PaymentAddress string `json:"payment_address"`
}

type signAndSendResult struct {
	Signature         string `json:"signature"`
	SignedTransaction string `json:"signed_transaction"`
}

func (p *PaymasterSigner) Mode() string { return "paymaster" }

// FeePayer asks the paymaster for its signer address. The answer is cached
// after the first successful call.
func (p *PaymasterSigner) FeePayer(ctx context.Context) (solanago.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.payer != nil {
		return *p.payer, nil
	}

	var out payerSignerResult
	if err := p.rpc.CallForInto(ctx, &out, "getPayerSigner", []interface{}{}); err != nil {
		return solanago.PublicKey{}, classifySendError(fmt.Errorf("paymaster getPayerSigner: %w", err))
	}
	payer, err := solanago.PublicKeyFromBase58(out.SignerAddress)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("paymaster returned invalid signer %q: %w", out.SignerAddress, err)
	}
	p.payer = &payer

	p.logger.Info("paymaster fee payer resolved", "fee_payer", payer.String())
	return payer, nil
}

// SignAndSend hands the serialized transaction to the paymaster.
func (p *PaymasterSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("serialize transaction: %w", err)
	}

	var out signAndSendResult
	params := []interface{}{map[string]string{
		"transaction": base64.StdEncoding.EncodeToString(raw),
	}}
	if err := p.rpc.CallForInto(ctx, &out, "signAndSendTransaction", params); err != nil {
		return solanago.Signature{}, classifySendError(fmt.Errorf("paymaster signAndSendTransaction: %w", err))
	}

	sig, err := solanago.SignatureFromBase58(out.Signature)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("paymaster returned invalid signature %q: %w", out.Signature, err)
	}
	return sig, nil
}
