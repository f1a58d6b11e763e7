package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is the confirmation state of a submitted transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Kind distinguishes plain transfers from swaps.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindSwap     Kind = "swap"
)

// Record tracks one submitted transaction. Records handed to callers are
// copies; the store holds the only mutable instance.
type Record struct {
	Signature   string    `json:"signature"`
	Kind        Kind      `json:"kind"`
	From        string    `json:"from"`
	To          string    `json:"to,omitempty"`
	Amount      uint64    `json:"amount"`
	UIAmount    float64   `json:"ui_amount"`
	Token       string    `json:"token"`
	Mint        string    `json:"mint,omitempty"`
	Signer      string    `json:"signer"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Slot        uint64    `json:"slot,omitempty"`
	ExplorerURL string    `json:"explorer_url"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExplorerURL links a signature on Solscan for the given network.
func ExplorerURL(signature, network string) string {
	if network == "" || network == "mainnet" {
		return fmt.Sprintf("https://solscan.io/tx/%s", signature)
	}
	return fmt.Sprintf("https://solscan.io/tx/%s?cluster=%s", signature, network)
}

// Journal persists records beyond the life of the process.
type Journal interface {
	SaveRecord(ctx context.Context, rec *Record) error
}

const journalTimeout = 5 * time.Second

// Store keeps records in memory. With a journal attached, every write is
// also saved there; the in-memory copy stays authoritative.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	journal Journal
	logger  *slog.Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// WithJournal attaches j. Journal failures are logged, never returned.
func (s *Store) WithJournal(j Journal, logger *slog.Logger) *Store {
	s.journal = j
	s.logger = logger
	return s
}

// Restore loads previously journaled records without writing them back.
func (s *Store) Restore(recs []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		cp := *rec
		s.records[rec.Signature] = &cp
	}
}

// Pending returns copies of every record still awaiting confirmation.
func (s *Store) Pending() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if !rec.Status.Terminal() {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Put inserts rec, replacing any record with the same signature.
func (s *Store) Put(rec *Record) {
	s.mu.Lock()
	stored := *rec
	s.records[rec.Signature] = &stored
	cp := stored
	s.mu.Unlock()

	s.save(&cp)
}

func (s *Store) save(rec *Record) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.SaveRecord(ctx, rec); err != nil && s.logger != nil {
		s.logger.Error("failed to journal transfer record",
			"signature", rec.Signature,
			"status", rec.Status,
			"error", err,
		)
	}
}

// Get returns a copy of the record for signature.
func (s *Store) Get(signature string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[signature]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns copies of the records sent from wallet (all when empty),
// newest first.
func (s *Store) List(wallet string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if wallet != "" && rec.From != wallet {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Resolve moves a pending record to a terminal status. It returns the
// updated copy and whether a transition happened; terminal records are left
// untouched.
func (s *Store) Resolve(signature string, status Status, slot uint64, errMsg string, at time.Time) (*Record, bool, error) {
	if !status.Terminal() {
		return nil, false, fmt.Errorf("cannot resolve to non-terminal status %q", status)
	}
	s.mu.Lock()
	rec, ok := s.records[signature]
	if !ok {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("no record for signature %s", signature)
	}
	if rec.Status.Terminal() {
		cp := *rec
		s.mu.Unlock()
		return &cp, false, nil
	}
	rec.Status = status
	rec.Slot = slot
	rec.Error = errMsg
	rec.UpdatedAt = at
	cp := *rec
	s.mu.Unlock()

	s.save(&cp)
	return &cp, true, nil
}
