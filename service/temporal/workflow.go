package temporal

import (
	"fmt"
	"time"

	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/transfer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultConfirmTimeout      = 60 * time.Second
	defaultConfirmPollInterval = 2 * time.Second
)

// ConfirmTransferWorkflow follows a submitted transaction until it is
// confirmed, fails, or input.Timeout elapses, then publishes the outcome.
//
// The workflow performs these steps:
// 1. Check the signature status (CheckSignature activity)
// 2. Sleep for the poll interval and repeat while the status is pending
// 3. Publish the final status (PublishStatus activity)
func ConfirmTransferWorkflow(ctx workflow.Context, input ConfirmTransferInput) (*ConfirmTransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmTransferWorkflow started", "signature", input.Signature)

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	interval := input.PollInterval
	if interval <= 0 {
		interval = defaultConfirmPollInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &ConfirmTransferResult{
		Signature: input.Signature,
		Status:    string(transfer.StatusPending),
	}
	deadline := workflow.Now(ctx).Add(timeout)

	for {
		result.Polls++
		var check *CheckSignatureResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignature, CheckSignatureInput{Signature: input.Signature}).Get(ctx, &check)
		if err != nil {
			// A failed lookup is treated like a pending status until the deadline.
			logger.Warn("signature check failed", "signature", input.Signature, "error", err)
		} else if transfer.Status(check.Status).Terminal() {
			result.Status = check.Status
			result.Slot = check.Slot
			result.Error = check.Error
			break
		}

		if !workflow.Now(ctx).Add(interval).Before(deadline) {
			result.TimedOut = true
			break
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, fmt.Errorf("confirmation sleep interrupted: %w", err)
		}
	}

	event := natspkg.TransferEvent{
		Signature:     input.Signature,
		WalletAddress: input.WalletAddress,
		ToAddress:     input.ToAddress,
		Kind:          input.Kind,
		Status:        result.Status,
		Error:         result.Error,
		Amount:        input.Amount,
		Token:         input.Token,
		Slot:          result.Slot,
		SubmittedAt:   input.SubmittedAt,
	}
	if result.TimedOut {
		event.Error = "confirmation timed out"
	}
	if err := workflow.ExecuteActivity(ctx, a.PublishStatus, PublishStatusInput{Event: event}).Get(ctx, nil); err != nil {
		logger.Error("failed to publish final status", "signature", input.Signature, "error", err)
		return result, fmt.Errorf("failed to publish final status: %w", err)
	}

	logger.Info("ConfirmTransferWorkflow completed",
		"signature", input.Signature,
		"status", result.Status,
		"polls", result.Polls,
		"timed_out", result.TimedOut,
	)
	return result, nil
}
