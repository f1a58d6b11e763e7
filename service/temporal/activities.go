package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
)

// ConfirmTransferInput describes a submitted transaction to follow.
type ConfirmTransferInput struct {
	Signature     string        `json:"signature"`
	WalletAddress string        `json:"wallet_address"`
	ToAddress     string        `json:"to_address,omitempty"`
	Kind          string        `json:"kind"`
	Amount        uint64        `json:"amount"`
	Token         string        `json:"token"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	Timeout       time.Duration `json:"timeout"`
	PollInterval  time.Duration `json:"poll_interval"`
}

// ConfirmTransferResult is the outcome of a confirmation workflow. Status
// stays pending when the timeout elapses first.
type ConfirmTransferResult struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
	Error     string `json:"error,omitempty"`
	Polls     int    `json:"polls"`
	TimedOut  bool   `json:"timed_out"`
}

// CheckSignatureInput contains parameters for the CheckSignature activity.
type CheckSignatureInput struct {
	Signature string `json:"signature"`
}

// CheckSignatureResult is the status of a signature at the time of the check.
type CheckSignatureResult struct {
	Status string `json:"status"`
	Slot   uint64 `json:"slot,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PublishStatusInput contains parameters for the PublishStatus activity.
type PublishStatusInput struct {
	Event natspkg.TransferEvent `json:"event"`
}

// SignatureChecker looks up on-chain signature status.
// This allows for easy mocking in tests.
type SignatureChecker interface {
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	chain     SignatureChecker
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil,
// PublishStatus is a no-op.
func NewActivities(chain SignatureChecker, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		chain:     chain,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// CheckSignature fetches the current status of a signature. RPC failures are
// returned so Temporal retries the activity.
func (a *Activities) CheckSignature(ctx context.Context, input CheckSignatureInput) (*CheckSignatureResult, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", input.Signature, err)
	}

	st, err := a.chain.SignatureStatus(ctx, sig)
	if err != nil {
		a.logger.WarnContext(ctx, "signature status lookup failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	status, reason := transfer.StatusFromChain(st)
	result := &CheckSignatureResult{Status: string(status), Error: reason}
	if st != nil {
		result.Slot = st.Slot
	}

	a.logger.DebugContext(ctx, "checked signature",
		"signature", input.Signature,
		"status", result.Status,
		"slot", result.Slot,
	)
	return result, nil
}

// PublishStatus publishes a transfer status event to NATS.
func (a *Activities) PublishStatus(ctx context.Context, input PublishStatusInput) error {
	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping event", "signature", input.Event.Signature)
		return nil
	}

	event := input.Event
	if err := a.publisher.PublishTransferEvent(ctx, &event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transfer status",
			"signature", event.Signature,
			"status", event.Status,
			"error", err,
		)
		return fmt.Errorf("failed to publish transfer status: %w", err)
	}

	outcome := event.Status
	if !transfer.Status(outcome).Terminal() {
		outcome = "timeout"
	}
	if !event.SubmittedAt.IsZero() {
		a.metrics.RecordConfirmation(outcome, time.Since(event.SubmittedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "published transfer status",
		"signature", event.Signature,
		"status", event.Status,
	)
	return nil
}
