package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/lazorpass/service/config"
	solanago "github.com/gagliardetto/solana-go"
)

// Signer signs a built transaction and submits it to the network.
// Implementations are chosen once at startup.
type Signer interface {
	// FeePayer is the account that pays the transaction fee.
	FeePayer(ctx context.Context) (solanago.PublicKey, error)
	// SignAndSend signs tx and submits it, returning its signature.
	SignAndSend(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	// Mode names the implementation for logs and metrics.
	Mode() string
}

// Sender submits fully signed transactions.
type Sender interface {
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}

// NewSigner builds the signer selected by cfg.SignerMode.
func NewSigner(cfg *config.Config, sender Sender, logger *slog.Logger) (Signer, error) {
	switch cfg.SignerMode {
	case config.SignerModePaymaster:
		return NewPaymasterSigner(cfg.PaymasterURL, logger), nil
	case config.SignerModeKeypair:
		key, err := solanago.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("load keypair %s: %w", cfg.KeypairPath, err)
		}
		return NewKeypairSigner(key, sender), nil
	case config.SignerModeStub:
		logger.Warn("using stub signer, transactions will not reach the network")
		return NewStubSigner(), nil
	default:
		return nil, fmt.Errorf("unknown signer mode %q", cfg.SignerMode)
	}
}
