package transfer

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
)

// StubSigner fabricates signatures without touching the network. Every call
// returns a fresh signature.
type StubSigner struct {
	payer solanago.PublicKey

	mu     sync.Mutex
	sent   []*solanago.Transaction
	reject error
}

// NewStubSigner creates a stub signer with a throwaway fee payer.
func NewStubSigner() *StubSigner {
	return &StubSigner{payer: solanago.NewWallet().PublicKey()}
}

func (s *StubSigner) Mode() string { return "stub" }

func (s *StubSigner) FeePayer(ctx context.Context) (solanago.PublicKey, error) {
	return s.payer, nil
}

func (s *StubSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return solanago.Signature{}, s.reject
	}

	var sig solanago.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return solanago.Signature{}, fmt.Errorf("generate stub signature: %w", err)
	}
	s.sent = append(s.sent, tx)
	return sig, nil
}

// Reject makes subsequent SignAndSend calls fail with err.
func (s *StubSigner) Reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = err
}

// Sent returns the transactions handed to the stub.
func (s *StubSigner) Sent() []*solanago.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*solanago.Transaction, len(s.sent))
	copy(out, s.sent)
	return out
}
