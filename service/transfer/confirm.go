package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// StatusFromChain maps an on-chain signature status onto a record status.
// Anything short of confirmed commitment is still pending.
func StatusFromChain(st *solana.SignatureStatus) (Status, string) {
	if st == nil || !st.Found {
		return StatusPending, ""
	}
	if st.Err != nil {
		return StatusFailed, *st.Err
	}
	if st.Settled() {
		return StatusConfirmed, ""
	}
	return StatusPending, ""
}

// AwaitConfirmation polls the signature status of a submitted record until
// it is confirmed or failed. If timeout passes first it returns the record,
// still pending, with wallet.ErrConfirmationTimeout.
func (s *Submitter) AwaitConfirmation(ctx context.Context, signature string, timeout time.Duration) (*Record, error) {
	rec, ok := s.store.Get(signature)
	if !ok {
		return nil, fmt.Errorf("no record for signature %s", signature)
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}

	start := s.now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		st, err := s.chain.SignatureStatus(ctx, sig)
		if err != nil {
			s.logger.WarnContext(ctx, "signature status lookup failed, retrying",
				"signature", signature,
				"error", err,
			)
		} else if status, reason := StatusFromChain(st); status.Terminal() {
			updated, changed, err := s.store.Resolve(signature, status, st.Slot, reason, s.now())
			if err != nil {
				return nil, err
			}
			if changed {
				s.metrics.RecordConfirmation(string(status), s.now().Sub(start).Seconds())
				s.logger.InfoContext(ctx, "transaction resolved",
					"signature", signature,
					"status", status,
					"slot", st.Slot,
				)
				s.publish(ctx, updated)
			}
			return updated, nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			s.metrics.RecordConfirmation("timeout", s.now().Sub(start).Seconds())
			current, _ := s.store.Get(signature)
			return current, wallet.ErrConfirmationTimeout
		case <-ctx.Done():
			current, _ := s.store.Get(signature)
			return current, ctx.Err()
		}
	}
}

// ApplyStatus records a terminal status decided elsewhere, such as by a
// confirmation workflow. Unknown signatures and repeated updates are no-ops.
func (s *Submitter) ApplyStatus(ctx context.Context, signature string, status Status, slot uint64, reason string) (*Record, bool) {
	if !status.Terminal() {
		return nil, false
	}
	rec, changed, err := s.store.Resolve(signature, status, slot, reason, s.now())
	if err != nil {
		s.logger.DebugContext(ctx, "ignoring status for unknown record", "signature", signature)
		return nil, false
	}
	return rec, changed
}

// Tracker follows a submitted record until it resolves.
type Tracker interface {
	Track(ctx context.Context, rec *Record) error
}

// LocalTracker confirms records in background goroutines of this process.
type LocalTracker struct {
	submitter *Submitter
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewLocalTracker creates a tracker that gives each record timeout to settle.
func NewLocalTracker(s *Submitter, timeout time.Duration, logger *slog.Logger) *LocalTracker {
	return &LocalTracker{submitter: s, timeout: timeout, logger: logger}
}

// Track starts polling for rec. The poll outlives ctx's cancellation but
// keeps its values.
func (t *LocalTracker) Track(ctx context.Context, rec *Record) error {
	bg := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.submitter.AwaitConfirmation(bg, rec.Signature, t.timeout); err != nil {
			t.logger.WarnContext(bg, "confirmation did not complete",
				"signature", rec.Signature,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until every tracked record has resolved or timed out.
func (t *LocalTracker) Wait() {
	t.wg.Wait()
}
