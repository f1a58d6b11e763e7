package nats

import (
	"fmt"
	"time"
)

// TransferEvent is a transfer status change published to NATS.
// It is published to the subject "transfers.{wallet_address}" in JetStream.
type TransferEvent struct {
	Signature     string `json:"signature"`
	WalletAddress string `json:"wallet_address"` // sending wallet
	ToAddress     string `json:"to_address,omitempty"`

	Kind   string `json:"kind"`   // "transfer" or "swap"
	Status string `json:"status"` // pending, confirmed, failed
	Error  string `json:"error,omitempty"`

	Amount uint64 `json:"amount"`
	Token  string `json:"token"`
	Slot   uint64 `json:"slot,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for events of wallet. An empty
// wallet matches every wallet.
func Subject(wallet string) string {
	if wallet == "" {
		return StreamSubjects
	}
	return fmt.Sprintf("%s.%s", subjectPrefix, wallet)
}
