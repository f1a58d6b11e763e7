package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Identity is the wallet identity produced by a successful passkey connect.
type Identity struct {
	Address      string    `json:"address"`        // smart wallet address (base58)
	RawPublicKey []byte    `json:"raw_public_key"` // passkey public key bytes, opaque to us
	CredentialID string    `json:"credential_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// NewIdentity validates the address and builds an Identity.
func NewIdentity(address string, rawPublicKey []byte, credentialID string, connectedAt time.Time) (*Identity, error) {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	return &Identity{
		Address:      address,
		RawPublicKey: rawPublicKey,
		CredentialID: credentialID,
		ConnectedAt:  connectedAt,
	}, nil
}

// PublicKey returns the identity address as a solana.PublicKey.
func (i *Identity) PublicKey() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(i.Address)
}

// State describes where a session is in its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Session owns the single wallet identity slot. It is created by the caller
// and passed to the connector and submitter explicitly.
type Session struct {
	mu         sync.RWMutex
	identity   *Identity
	attempt    *ConnectAttempt // non-nil while a connect is in flight
	submitting bool
	lastErr    error
}

// NewSession returns an empty, disconnected session.
func NewSession() *Session {
	return &Session{}
}

// ConnectAttempt is a claim on the session's connect slot. Finish must be
// called once the attempt resolves.
type ConnectAttempt struct {
	s         *Session
	cancelled chan struct{}
	abandoned bool // guarded by s.mu
}

// BeginConnect claims the connect slot and clears the previous connect error.
func (s *Session) BeginConnect() (*ConnectAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != nil {
		return nil, ErrConnectInProgress
	}
	s.attempt = &ConnectAttempt{s: s, cancelled: make(chan struct{})}
	s.lastErr = nil
	return s.attempt, nil
}

// Cancelled is closed when Disconnect abandons the attempt.
func (a *ConnectAttempt) Cancelled() <-chan struct{} {
	return a.cancelled
}

// Finish records the outcome and frees the connect slot. On success id
// becomes the session identity; on failure err becomes the last error and
// any earlier identity is kept. An attempt abandoned by Disconnect stores
// nothing and reports ErrAuthenticationCancelled. Calls after the first
// return err unchanged.
func (a *ConnectAttempt) Finish(id *Identity, err error) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		if a.abandoned {
			return fmt.Errorf("%w: wallet disconnected", ErrAuthenticationCancelled)
		}
		return err
	}
	s.attempt = nil
	if err != nil {
		s.lastErr = err
		return err
	}
	s.identity = id
	s.lastErr = nil
	return nil
}

// BeginSubmit marks a transaction submission as in flight.
func (s *Session) BeginSubmit() (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return nil, ErrSubmitInProgress
	}
	s.submitting = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.submitting = false
			s.mu.Unlock()
		})
	}, nil
}

// SetIdentity stores id directly, outside any connect attempt.
func (s *Session) SetIdentity(id *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.lastErr = nil
}

// Identity returns the current identity, or nil if disconnected.
func (s *Session) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Disconnect clears the identity slot and abandons any in-flight connect,
// which then resolves as cancelled without storing an identity.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.lastErr = nil
	if a := s.attempt; a != nil {
		a.abandoned = true
		close(a.cancelled)
		s.attempt = nil
		s.lastErr = ErrAuthenticationCancelled
	}
}

// Snapshot reports the session state, identity, and the error of the most
// recent connect attempt. A failed reconnect keeps the earlier identity, so
// a connected session may still carry an error.
func (s *Session) Snapshot() (State, *Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.attempt != nil:
		return StateConnecting, s.identity, s.lastErr
	case s.identity != nil:
		return StateConnected, s.identity, s.lastErr
	default:
		return StateDisconnected, nil, s.lastErr
	}
}
