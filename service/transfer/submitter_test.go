package transfer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/solana"
	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUSDCMint = solanago.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")

// fakeChain implements Chain and counts every call.
type fakeChain struct {
	mu        sync.Mutex
	calls     int
	blockhash solanago.Hash
	accounts  map[solanago.PublicKey]bool
	decimals  uint8
	statuses  map[solanago.Signature]*solana.SignatureStatus
	err       error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blockhash: solanago.Hash(solanago.NewWallet().PublicKey()),
		accounts:  make(map[solanago.PublicKey]bool),
		statuses:  make(map[solanago.Signature]*solana.SignatureStatus),
	}
}

func (c *fakeChain) record() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeChain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeChain) setStatus(sig solanago.Signature, st *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[sig] = st
}

func (c *fakeChain) LatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	if err := c.record(); err != nil {
		return solanago.Hash{}, err
	}
	return c.blockhash, nil
}

func (c *fakeChain) AccountExists(ctx context.Context, account solanago.PublicKey) (bool, error) {
	if err := c.record(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accounts[account], nil
}

func (c *fakeChain) MintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error) {
	if err := c.record(); err != nil {
		return 0, err
	}
	return c.decimals, nil
}

func (c *fakeChain) SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	if err := c.record(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.statuses[sig]; ok {
		return st, nil
	}
	return &solana.SignatureStatus{}, nil
}

type fixture struct {
	chain     *fakeChain
	signer    *StubSigner
	publisher *natspkg.MemoryBus
	submitter *Submitter
	session   *wallet.Session
	from      solanago.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := newFakeChain()
	signer := NewStubSigner()
	pub := natspkg.NewMemoryBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewSubmitter(chain, signer, NewStore(), Options{
		Network:             "devnet",
		USDCMint:            testUSDCMint,
		ConfirmPollInterval: 5 * time.Millisecond,
		Publisher:           pub,
	}, nil, logger)

	from := solanago.NewWallet().PublicKey()
	id, err := wallet.NewIdentity(from.String(), []byte{1}, "cred", time.Now())
	require.NoError(t, err)
	session := wallet.NewSession()
	session.SetIdentity(id)

	return &fixture{chain: chain, signer: signer, publisher: pub, submitter: s, session: session, from: from}
}

func TestSubmitTransfer_SOL(t *testing.T) {
	f := newFixture(t)
	to := solanago.NewWallet().PublicKey()

	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, to.String(), 0.1, "SOL")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, uint64(100_000_000), rec.Amount)
	assert.Equal(t, f.from.String(), rec.From)
	assert.Equal(t, to.String(), rec.To)
	assert.Equal(t, "stub", rec.Signer)
	assert.Contains(t, rec.ExplorerURL, "cluster=devnet")

	sent := f.signer.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]

	payer, _ := f.signer.FeePayer(context.Background())
	assert.Equal(t, payer, tx.Message.AccountKeys[0], "fee payer comes first")
	assert.Equal(t, f.chain.blockhash, tx.Message.RecentBlockhash)

	require.Len(t, tx.Message.Instructions, 1)
	ix := tx.Message.Instructions[0]
	program, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solanago.SystemProgramID, program)

	require.Len(t, ix.Data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(ix.Data[0:4]))
	assert.Equal(t, uint64(100_000_000), binary.LittleEndian.Uint64(ix.Data[4:12]))
	assert.Equal(t, f.from, tx.Message.AccountKeys[ix.Accounts[0]])
	assert.Equal(t, to, tx.Message.AccountKeys[ix.Accounts[1]])

	events := f.publisher.GetPublishedEventsForWallet(f.from.String())
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0].Status)
}

func TestSubmitTransfer_USDCCreatesRecipientAccount(t *testing.T) {
	f := newFixture(t)
	to := solanago.NewWallet().PublicKey()

	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, to.String(), 1.5, "usdc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), rec.Amount)
	assert.Equal(t, TokenUSDC, rec.Token)
	assert.Equal(t, testUSDCMint.String(), rec.Mint)

	tx := f.signer.Sent()[0]
	require.Len(t, tx.Message.Instructions, 2)

	create, err := tx.Message.ResolveProgramIDIndex(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solanago.SPLAssociatedTokenAccountProgramID, create)

	xfer := tx.Message.Instructions[1]
	program, err := tx.Message.ResolveProgramIDIndex(xfer.ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solanago.TokenProgramID, program)
	assert.Equal(t, byte(12), xfer.Data[0], "TransferChecked")
	assert.Equal(t, uint64(1_500_000), binary.LittleEndian.Uint64(xfer.Data[1:9]))
	assert.Equal(t, byte(6), xfer.Data[9])
}

func TestSubmitTransfer_ExistingRecipientAccount(t *testing.T) {
	f := newFixture(t)
	to := solanago.NewWallet().PublicKey()
	ata, _, err := solanago.FindAssociatedTokenAddress(to, testUSDCMint)
	require.NoError(t, err)
	f.chain.accounts[ata] = true

	_, err = f.submitter.SubmitTransfer(context.Background(), f.session, to.String(), 2, TokenUSDC)
	require.NoError(t, err)
	assert.Len(t, f.signer.Sent()[0].Message.Instructions, 1)
}

func TestSubmitTransfer_CustomMintDecimals(t *testing.T) {
	f := newFixture(t)
	f.chain.decimals = 2
	mint := solanago.NewWallet().PublicKey()

	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 3.25, mint.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(325), rec.Amount)
	assert.Equal(t, mint.String(), rec.Mint)
}

func TestSubmitTransfer_ValidationMakesNoNetworkCalls(t *testing.T) {
	to := solanago.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		connect bool
		to      string
		amount  float64
		token   string
		wantErr error
	}{
		{"not connected", false, to, 0.1, "SOL", wallet.ErrNotConnected},
		{"bad address", true, "not-base58-0OIl", 0.1, "SOL", wallet.ErrInvalidAddress},
		{"empty address", true, "", 0.1, "SOL", wallet.ErrInvalidAddress},
		{"zero amount", true, to, 0, "SOL", wallet.ErrInvalidAmount},
		{"negative amount", true, to, -1, "SOL", wallet.ErrInvalidAmount},
		{"nan amount", true, to, math.NaN(), "SOL", wallet.ErrInvalidAmount},
		{"infinite amount", true, to, math.Inf(1), "SOL", wallet.ErrInvalidAmount},
		{"dust amount", true, to, 1e-12, "SOL", wallet.ErrInvalidAmount},
		{"unknown token", true, to, 1, "DOGE", wallet.ErrInvalidAddress},
		{"not connected wins over bad input", false, "bad", -1, "SOL", wallet.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if !tt.connect {
				f.session.Disconnect()
			}

			rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, tt.to, tt.amount, tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, rec)
			assert.Zero(t, f.chain.Calls(), "no RPC call expected")
			assert.Empty(t, f.signer.Sent(), "nothing may be signed")
		})
	}
}

func TestSubmitTransfer_NoDeduplication(t *testing.T) {
	f := newFixture(t)
	to := solanago.NewWallet().PublicKey().String()

	first, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
	require.NoError(t, err)
	second, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
	require.NoError(t, err)

	assert.NotEqual(t, first.Signature, second.Signature)
	assert.Len(t, f.submitter.List(f.from.String()), 2)
}

func TestSubmitTransfer_InFlightGuard(t *testing.T) {
	f := newFixture(t)
	release, err := f.session.BeginSubmit()
	require.NoError(t, err)
	defer release()

	_, err = f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 1, "SOL")
	assert.ErrorIs(t, err, wallet.ErrSubmitInProgress)
}

func TestSubmitTransfer_ErrorMapping(t *testing.T) {
	to := solanago.NewWallet().PublicKey().String()

	t.Run("signer rejects", func(t *testing.T) {
		f := newFixture(t)
		f.signer.Reject(&jsonrpc.RPCError{Code: -32000, Message: "user rejected the request"})
		_, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
		assert.ErrorIs(t, err, wallet.ErrSigningRejected)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		f := newFixture(t)
		f.signer.Reject(errors.New("Transaction simulation failed: Attempt to debit an account but found no record of a prior credit."))
		_, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
		assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	})

	t.Run("rpc unreachable", func(t *testing.T) {
		f := newFixture(t)
		f.chain.err = errors.New("dial tcp: connection refused")
		_, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
		var netErr *wallet.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Contains(t, netErr.Cause.Error(), "connection refused")
	})

	t.Run("guard released after failure", func(t *testing.T) {
		f := newFixture(t)
		f.signer.Reject(errors.New("boom"))
		_, err := f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
		require.Error(t, err)

		f.signer.Reject(nil)
		_, err = f.submitter.SubmitTransfer(context.Background(), f.session, to, 0.1, "SOL")
		assert.NoError(t, err)
	})
}

func TestAwaitConfirmation_Confirmed(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)

	sig := solanago.MustSignatureFromBase58(rec.Signature)
	f.chain.setStatus(sig, &solana.SignatureStatus{Found: true, Slot: 77, ConfirmationStatus: "confirmed"})

	got, err := f.submitter.AwaitConfirmation(context.Background(), rec.Signature, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, uint64(77), got.Slot)

	stored, ok := f.submitter.Get(rec.Signature)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, stored.Status)

	events := f.publisher.GetPublishedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "confirmed", events[1].Status)
}

func TestAwaitConfirmation_Failed(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)

	reason := "InstructionError"
	f.chain.setStatus(solanago.MustSignatureFromBase58(rec.Signature), &solana.SignatureStatus{Found: true, ConfirmationStatus: "processed", Err: &reason})

	got, err := f.submitter.AwaitConfirmation(context.Background(), rec.Signature, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, reason, got.Error)
}

func TestAwaitConfirmation_TimeoutLeavesPending(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)

	got, err := f.submitter.AwaitConfirmation(context.Background(), rec.Signature, 30*time.Millisecond)
	assert.ErrorIs(t, err, wallet.ErrConfirmationTimeout)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)

	stored, _ := f.submitter.Get(rec.Signature)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestAwaitConfirmation_ProcessedIsStillPending(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)
	f.chain.setStatus(solanago.MustSignatureFromBase58(rec.Signature), &solana.SignatureStatus{Found: true, ConfirmationStatus: "processed"})

	_, err = f.submitter.AwaitConfirmation(context.Background(), rec.Signature, 30*time.Millisecond)
	assert.ErrorIs(t, err, wallet.ErrConfirmationTimeout)
}

func TestAwaitConfirmation_UnknownSignature(t *testing.T) {
	f := newFixture(t)
	_, err := f.submitter.AwaitConfirmation(context.Background(), "nope", time.Second)
	assert.Error(t, err)
}

func TestLocalTracker(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)
	f.chain.setStatus(solanago.MustSignatureFromBase58(rec.Signature), &solana.SignatureStatus{Found: true, ConfirmationStatus: "finalized"})

	ctx, cancel := context.WithCancel(context.Background())
	tracker := NewLocalTracker(f.submitter, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, tracker.Track(ctx, rec))
	cancel() // the poll must survive the request context
	tracker.Wait()

	got, _ := f.submitter.Get(rec.Signature)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestApplyStatus(t *testing.T) {
	f := newFixture(t)
	rec, err := f.submitter.SubmitTransfer(context.Background(), f.session, solanago.NewWallet().PublicKey().String(), 0.1, "SOL")
	require.NoError(t, err)

	got, changed := f.submitter.ApplyStatus(context.Background(), rec.Signature, StatusConfirmed, 9, "")
	require.True(t, changed)
	assert.Equal(t, StatusConfirmed, got.Status)

	_, changed = f.submitter.ApplyStatus(context.Background(), rec.Signature, StatusFailed, 10, "late")
	assert.False(t, changed, "terminal records never change")

	_, changed = f.submitter.ApplyStatus(context.Background(), "unknown", StatusConfirmed, 0, "")
	assert.False(t, changed)
}

func TestSubmitSwap(t *testing.T) {
	f := newFixture(t)
	payer := f.from
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{solanago.NewInstruction(solanago.MemoProgramID, solanago.AccountMetaSlice{}, []byte("swap"))},
		f.chain.blockhash,
		solanago.TransactionPayer(payer),
	)
	require.NoError(t, err)

	rec, err := f.submitter.SubmitSwap(context.Background(), f.session, Swap{
		Transaction: tx,
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  testUSDCMint.String(),
		InAmount:    1_000_000,
		OutAmount:   150_000,
	})
	require.NoError(t, err)
	assert.Equal(t, KindSwap, rec.Kind)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Same(t, tx, f.signer.Sent()[0])

	f.session.Disconnect()
	_, err = f.submitter.SubmitSwap(context.Background(), f.session, Swap{Transaction: tx, InAmount: 1})
	assert.ErrorIs(t, err, wallet.ErrNotConnected)
}

func TestResolveToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.submitter.ResolveToken(ctx, "sol")
	require.NoError(t, err)
	assert.Equal(t, solanago.SolMint, tok.SwapMint())
	assert.Zero(t, f.chain.Calls())

	tok, err = f.submitter.ResolveToken(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, testUSDCMint, tok.SwapMint())
	assert.Equal(t, uint8(6), tok.Decimals)

	f.chain.decimals = 5
	mint := solanago.NewWallet().PublicKey()
	tok, err = f.submitter.ResolveToken(ctx, mint.String())
	require.NoError(t, err)
	assert.Equal(t, uint8(5), tok.Decimals)
	assert.Equal(t, 1, f.chain.Calls())

	f.chain.err = errors.New("rpc down")
	_, err = f.submitter.ResolveToken(ctx, solanago.NewWallet().PublicKey().String())
	var netErr *wallet.NetworkError
	assert.ErrorAs(t, err, &netErr)
}
