package wallet

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. None of them are fatal; every failure
// returns control to the initiating action so the user can retry.
var (
	ErrAuthenticationTimeout   = errors.New("passkey authentication timed out")
	ErrAuthenticationCancelled = errors.New("passkey authentication cancelled")
	ErrConnectInProgress       = errors.New("a connect request is already in flight")
	ErrSubmitInProgress        = errors.New("a transaction submission is already in flight")
	ErrNotConnected            = errors.New("wallet not connected")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrSigningRejected         = errors.New("wallet rejected signing")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrConfirmationTimeout     = errors.New("transaction confirmation timed out")
)

// AuthenticationFailedError is returned when the portal reports a failed
// passkey ceremony.
type AuthenticationFailedError struct {
	Reason string
}

func (e *AuthenticationFailedError) Error() string {
	if e.Reason == "" {
		return "passkey authentication failed"
	}
	return fmt.Sprintf("passkey authentication failed: %s", e.Reason)
}

// NetworkError wraps a transport or RPC failure.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// Code returns a stable, machine-readable identifier for err.
// Unknown errors map to "internal".
func Code(err error) string {
	var authErr *AuthenticationFailedError
	var netErr *NetworkError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "authentication_failed"
	case errors.Is(err, ErrAuthenticationTimeout):
		return "authentication_timeout"
	case errors.Is(err, ErrAuthenticationCancelled):
		return "authentication_cancelled"
	case errors.Is(err, ErrConnectInProgress), errors.Is(err, ErrSubmitInProgress):
		return "in_progress"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSigningRejected):
		return "signing_rejected"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConfirmationTimeout):
		return "confirmation_timeout"
	case errors.As(err, &netErr):
		return "network_error"
	default:
		return "internal"
	}
}
