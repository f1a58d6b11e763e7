package transfer

import (
	"context"
	"fmt"

	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// KeypairSigner pays its own fees with a local key. It can only sign for
// accounts it holds, so the connected wallet must be the key's address.
type KeypairSigner struct {
	key    solanago.PrivateKey
	sender Sender
}

// NewKeypairSigner creates a self-paid signer.
func NewKeypairSigner(key solanago.PrivateKey, sender Sender) *KeypairSigner {
	return &KeypairSigner{key: key, sender: sender}
}

func (k *KeypairSigner) Mode() string { return "keypair" }

func (k *KeypairSigner) FeePayer(ctx context.Context) (solanago.PublicKey, error) {
	return k.key.PublicKey(), nil
}

func (k *KeypairSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	pub := k.key.PublicKey()
	_, err := tx.Sign(func(signer solanago.PublicKey) *solanago.PrivateKey {
		if signer.Equals(pub) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("%w: %v", wallet.ErrSigningRejected, err)
	}

	sig, err := k.sender.SendTransaction(ctx, tx)
	if err != nil {
		return solanago.Signature{}, classifySendError(err)
	}
	return sig, nil
}
