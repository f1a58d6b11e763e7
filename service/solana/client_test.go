package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	balance      uint64
	blockhash    solana.Hash
	accounts     map[solana.PublicKey]bool
	decimals     uint8
	tokenAmount  string
	statuses     map[solana.Signature]*rpc.SignatureStatusesResult
	sent         []*solana.Transaction
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error
	txErr        error
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash}}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.accounts[account] {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{}}, nil
}

func (m *mockRPCClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Decimals: m.decimals}}, nil
}

func (m *mockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: m.tokenAmount, Decimals: m.decimals}}, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := &rpc.GetSignatureStatusesResult{}
	for _, sig := range signatures {
		out.Value = append(out.Value, m.statuses[sig])
	}
	return out, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if m.err != nil {
		return solana.Signature{}, m.err
	}
	m.sent = append(m.sent, tx)
	return testSignature(byte(len(m.sent))), nil
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	if m.txErr != nil {
		return nil, m.txErr
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(mock, "test", nil, logger)
	c.historyDelay = 0
	return c
}

func TestBalance(t *testing.T) {
	client := newTestClient(&mockRPCClient{balance: 1_500_000_000})

	got, err := client.Balance(context.Background(), testFrom)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), got)
}

func TestBalance_RPCError(t *testing.T) {
	client := newTestClient(&mockRPCClient{err: errors.New("connection refused")})

	_, err := client.Balance(context.Background(), testFrom)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTokenBalance(t *testing.T) {
	ata, _, err := solana.FindAssociatedTokenAddress(testFrom, testMint)
	require.NoError(t, err)

	t.Run("existing token account", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{
			accounts:    map[solana.PublicKey]bool{ata: true},
			tokenAmount: "2500000",
			decimals:    6,
		})

		bal, err := client.TokenBalance(context.Background(), testFrom, testMint)
		require.NoError(t, err)
		assert.Equal(t, uint64(2_500_000), bal.Amount)
		assert.Equal(t, uint8(6), bal.Decimals)
		assert.Equal(t, ata.String(), bal.Account)
	})

	t.Run("missing token account is zero", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{decimals: 6})

		bal, err := client.TokenBalance(context.Background(), testFrom, testMint)
		require.NoError(t, err)
		assert.Zero(t, bal.Amount)
		assert.Equal(t, uint8(6), bal.Decimals)
	})
}

func TestAccountExists(t *testing.T) {
	client := newTestClient(&mockRPCClient{accounts: map[solana.PublicKey]bool{testTo: true}})

	exists, err := client.AccountExists(context.Background(), testTo)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.AccountExists(context.Background(), testFrom)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLatestBlockhash(t *testing.T) {
	seed := testSignature(9)
	hash := solana.Hash(seed[:32])
	client := newTestClient(&mockRPCClient{blockhash: hash})

	got, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestSignatureStatus(t *testing.T) {
	sig := testSignature(3)
	failure := map[string]any{"InstructionError": []any{0, "Custom"}}

	client := newTestClient(&mockRPCClient{
		statuses: map[solana.Signature]*rpc.SignatureStatusesResult{
			sig:              {Slot: 55, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			testSignature(4): {Slot: 56, ConfirmationStatus: rpc.ConfirmationStatusProcessed, Err: failure},
		},
	})

	t.Run("confirmed", func(t *testing.T) {
		st, err := client.SignatureStatus(context.Background(), sig)
		require.NoError(t, err)
		assert.True(t, st.Found)
		assert.True(t, st.Settled())
		assert.Equal(t, uint64(55), st.Slot)
		assert.Nil(t, st.Err)
	})

	t.Run("failed", func(t *testing.T) {
		st, err := client.SignatureStatus(context.Background(), testSignature(4))
		require.NoError(t, err)
		assert.True(t, st.Found)
		assert.False(t, st.Settled())
		require.NotNil(t, st.Err)
	})

	t.Run("unknown", func(t *testing.T) {
		st, err := client.SignatureStatus(context.Background(), testSignature(5))
		require.NoError(t, err)
		assert.False(t, st.Found)
	})
}

func TestRecentTransactions(t *testing.T) {
	ctx := context.Background()
	now := solana.UnixTimeSeconds(1_700_000_000)

	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: testSignature(10), Slot: 100, BlockTime: &now},
			{Signature: testSignature(20), Slot: 99, BlockTime: &now},
		},
	}
	client := newTestClient(mock)

	txns, err := client.RecentTransactions(ctx, testFrom, 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, testSignature(10).String(), txns[0].Signature)
	assert.Equal(t, uint64(100), txns[0].Slot)
	assert.Equal(t, testSignature(20).String(), txns[1].Signature)
}

func TestRecentTransactions_DetailErrorFallsBackToMetadata(t *testing.T) {
	now := solana.UnixTimeSeconds(1_700_000_000)
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{{Signature: testSignature(10), Slot: 100, BlockTime: &now}},
		txErr:      errors.New("node unavailable"),
	}
	client := newTestClient(mock)

	txns, err := client.RecentTransactions(context.Background(), testFrom, 5)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, testSignature(10).String(), txns[0].Signature)
	assert.Zero(t, txns[0].Amount)
}

func TestRecentTransactions_RPCError(t *testing.T) {
	client := newTestClient(&mockRPCClient{err: errors.New("rate limited")})

	_, err := client.RecentTransactions(context.Background(), testFrom, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
