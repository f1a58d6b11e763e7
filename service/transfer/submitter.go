package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// Chain is the set of Solana reads the submitter depends on.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solanago.Hash, error)
	AccountExists(ctx context.Context, account solanago.PublicKey) (bool, error)
	MintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error)
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error)
}

// EventPublisher receives status changes of submitted transactions.
type EventPublisher interface {
	PublishTransferEvent(ctx context.Context, event *natspkg.TransferEvent) error
}

// Options configures a Submitter.
type Options struct {
	Network             string
	USDCMint            solanago.PublicKey
	ConfirmPollInterval time.Duration
	Publisher           EventPublisher // optional
}

// Submitter builds, signs, and submits transfers for the connected wallet.
type Submitter struct {
	chain        Chain
	signer       Signer
	store        *Store
	network      string
	usdcMint     solanago.PublicKey
	pollInterval time.Duration
	publisher    EventPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewSubmitter wires a submitter. m may be nil.
func NewSubmitter(chain Chain, signer Signer, store *Store, opts Options, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	poll := opts.ConfirmPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Submitter{
		chain:        chain,
		signer:       signer,
		store:        store,
		network:      opts.Network,
		usdcMint:     opts.USDCMint,
		pollInterval: poll,
		publisher:    opts.Publisher,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// Store returns the record store.
func (s *Submitter) Store() *Store { return s.store }

// SignerMode names the configured signer.
func (s *Submitter) SignerMode() string { return s.signer.Mode() }

// SubmitTransfer sends amount of tokenKind from the session wallet to to and
// returns a pending record. Validation failures return before any network
// call. Identical calls are never deduplicated.
func (s *Submitter) SubmitTransfer(ctx context.Context, session *wallet.Session, to string, amount float64, tokenKind string) (*Record, error) {
	start := s.now()
	rec, err := s.submitTransfer(ctx, session, to, amount, tokenKind)
	s.metrics.RecordSubmission(tokenLabel(tokenKind), s.signer.Mode(), outcomeOf(err), s.now().Sub(start).Seconds())
	if err != nil {
		s.logger.WarnContext(ctx, "transfer submission failed",
			"to", to,
			"amount", amount,
			"token", tokenKind,
			"error", err,
		)
		return nil, err
	}
	s.logger.InfoContext(ctx, "transfer submitted",
		"signature", rec.Signature,
		"from", rec.From,
		"to", rec.To,
		"amount", rec.Amount,
		"token", rec.Token,
		"signer", rec.Signer,
	)
	return rec, nil
}

func (s *Submitter) submitTransfer(ctx context.Context, session *wallet.Session, to string, amount float64, tokenKind string) (*Record, error) {
	id := session.Identity()
	if id == nil || id.Address == "" {
		return nil, wallet.ErrNotConnected
	}
	toKey, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", wallet.ErrInvalidAddress, to, err)
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	tok, needsDecimals, err := parseTokenKind(tokenKind, s.usdcMint)
	if err != nil {
		return nil, err
	}

	release, err := session.BeginSubmit()
	if err != nil {
		return nil, err
	}
	defer release()

	if needsDecimals {
		decimals, err := s.chain.MintDecimals(ctx, *tok.Mint)
		if err != nil {
			return nil, &wallet.NetworkError{Cause: err}
		}
		tok.Decimals = decimals
	}
	units, err := ToBaseUnits(amount, tok.Decimals)
	if err != nil {
		return nil, err
	}

	in := Instruction{
		From:   id.PublicKey(),
		To:     toKey,
		Amount: units,
		Token:  tok,
	}

	payer, err := s.signer.FeePayer(ctx)
	if err != nil {
		return nil, classifySendError(err)
	}
	instrs, err := in.Build(ctx, s.chain, payer)
	if err != nil {
		return nil, err
	}
	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, &wallet.NetworkError{Cause: err}
	}
	tx, err := solanago.NewTransaction(instrs, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	sig, err := s.signer.SignAndSend(ctx, tx)
	if err != nil {
		return nil, classifySendError(err)
	}

	now := s.now()
	rec := &Record{
		Signature:   sig.String(),
		Kind:        KindTransfer,
		From:        id.Address,
		To:          toKey.String(),
		Amount:      units,
		UIAmount:    FromBaseUnits(units, tok.Decimals),
		Token:       tok.Symbol,
		Mint:        tok.MintString(),
		Signer:      s.signer.Mode(),
		Status:      StatusPending,
		ExplorerURL: ExplorerURL(sig.String(), s.network),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.store.Put(rec)
	s.publish(ctx, rec)

	out, _ := s.store.Get(rec.Signature)
	return out, nil
}

// Swap describes a prebuilt swap transaction and what it trades.
type Swap struct {
	Transaction *solanago.Transaction
	InputMint   string
	OutputMint  string
	InAmount    uint64
	OutAmount   uint64
}

// SubmitSwap sends a prebuilt swap transaction through the signer and
// records it like a transfer.
func (s *Submitter) SubmitSwap(ctx context.Context, session *wallet.Session, swap Swap) (*Record, error) {
	start := s.now()
	rec, err := s.submitSwap(ctx, session, swap)
	s.metrics.RecordSubmission("swap", s.signer.Mode(), outcomeOf(err), s.now().Sub(start).Seconds())
	if err != nil {
		s.logger.WarnContext(ctx, "swap submission failed", "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "swap submitted",
		"signature", rec.Signature,
		"input_mint", swap.InputMint,
		"output_mint", swap.OutputMint,
		"in_amount", swap.InAmount,
	)
	return rec, nil
}

func (s *Submitter) submitSwap(ctx context.Context, session *wallet.Session, swap Swap) (*Record, error) {
	id := session.Identity()
	if id == nil || id.Address == "" {
		return nil, wallet.ErrNotConnected
	}
	if swap.Transaction == nil {
		return nil, fmt.Errorf("swap has no transaction")
	}
	if swap.InAmount == 0 {
		return nil, fmt.Errorf("%w: swap input amount is zero", wallet.ErrInvalidAmount)
	}

	release, err := session.BeginSubmit()
	if err != nil {
		return nil, err
	}
	defer release()

	sig, err := s.signer.SignAndSend(ctx, swap.Transaction)
	if err != nil {
		return nil, classifySendError(err)
	}

	now := s.now()
	rec := &Record{
		Signature:   sig.String(),
		Kind:        KindSwap,
		From:        id.Address,
		Amount:      swap.InAmount,
		Token:       swap.InputMint,
		Mint:        swap.OutputMint,
		Signer:      s.signer.Mode(),
		Status:      StatusPending,
		ExplorerURL: ExplorerURL(sig.String(), s.network),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.store.Put(rec)
	s.publish(ctx, rec)

	out, _ := s.store.Get(rec.Signature)
	return out, nil
}

// ResolveToken resolves a token kind (SOL, USDC, or a mint address) and
// looks up decimals for mints it does not know.
func (s *Submitter) ResolveToken(ctx context.Context, kind string) (Token, error) {
	tok, needsDecimals, err := parseTokenKind(kind, s.usdcMint)
	if err != nil {
		return Token{}, err
	}
	if needsDecimals {
		decimals, err := s.chain.MintDecimals(ctx, *tok.Mint)
		if err != nil {
			return Token{}, &wallet.NetworkError{Cause: err}
		}
		tok.Decimals = decimals
	}
	return tok, nil
}

// Get returns a copy of the record for signature.
func (s *Submitter) Get(signature string) (*Record, bool) {
	return s.store.Get(signature)
}

// List returns records sent from wallet, newest first.
func (s *Submitter) List(wallet string) []*Record {
	return s.store.List(wallet)
}

func (s *Submitter) publish(ctx context.Context, rec *Record) {
	if s.publisher == nil {
		return
	}
	event := &natspkg.TransferEvent{
		Signature:     rec.Signature,
		WalletAddress: rec.From,
		ToAddress:     rec.To,
		Kind:          string(rec.Kind),
		Status:        string(rec.Status),
		Error:         rec.Error,
		Amount:        rec.Amount,
		Token:         rec.Token,
		Slot:          rec.Slot,
		SubmittedAt:   rec.SubmittedAt,
	}
	if err := s.publisher.PublishTransferEvent(ctx, event); err != nil {
		// Events are best effort; the record store is authoritative.
		s.logger.WarnContext(ctx, "failed to publish transfer event",
			"signature", rec.Signature,
			"error", err,
		)
	}
}

func tokenLabel(kind string) string {
	switch kind {
	case "", TokenSOL, "sol":
		return "sol"
	case TokenUSDC, "usdc":
		return "usdc"
	default:
		return "spl"
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return wallet.Code(err)
}
