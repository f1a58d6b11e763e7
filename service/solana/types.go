package solana

import (
	"time"
)

// Transaction is a parsed transfer touching a wallet, independent of the RPC
// response format.
type Transaction struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"block_time"`
	Amount      uint64    `json:"amount"`
	TokenMint   *string   `json:"token_mint,omitempty"`   // nil for native SOL transfers
	Memo        *string   `json:"memo,omitempty"`         // parsed from memo instructions
	FromAddress *string   `json:"from_address,omitempty"` // nil if it cannot be determined
	ToAddress   *string   `json:"to_address,omitempty"`
	Err         *string   `json:"error,omitempty"` // nil if the transaction succeeded
}

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Found              bool    `json:"found"`
	Slot               uint64  `json:"slot"`
	ConfirmationStatus string  `json:"confirmation_status"` // processed, confirmed, finalized
	Err                *string `json:"error,omitempty"`
}

// Settled reports whether the transaction reached at least confirmed commitment.
func (s *SignatureStatus) Settled() bool {
	return s.Found && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}

// TokenBalance is an SPL token balance in base units.
type TokenBalance struct {
	Mint     string `json:"mint"`
	Account  string `json:"account"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
}
