package transfer

import (
	"context"
	"fmt"

	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Instruction is a single-transfer intent. From is always the connected
// wallet; Amount is in base units of Token.
type Instruction struct {
	From   solanago.PublicKey
	To     solanago.PublicKey
	Amount uint64
	Token  Token
}

// accountChecker reports whether an on-chain account exists.
type accountChecker interface {
	AccountExists(ctx context.Context, account solanago.PublicKey) (bool, error)
}

// Build returns the program instructions for the transfer. SPL transfers
// move tokens between associated token accounts and prepend a create for
// the recipient's account when it does not exist yet, paid by payer.
func (in Instruction) Build(ctx context.Context, chain accountChecker, payer solanago.PublicKey) ([]solanago.Instruction, error) {
	if in.From.IsZero() {
		return nil, fmt.Errorf("transfer has no source wallet")
	}

	if in.Token.IsNative() {
		return []solanago.Instruction{
			system.NewTransferInstruction(in.Amount, in.From, in.To).Build(),
		}, nil
	}

	mint := *in.Token.Mint
	source, _, err := solanago.FindAssociatedTokenAddress(in.From, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	dest, _, err := solanago.FindAssociatedTokenAddress(in.To, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	var instrs []solanago.Instruction
	exists, err := chain.AccountExists(ctx, dest)
	if err != nil {
		return nil, &wallet.NetworkError{Cause: err}
	}
	if !exists {
		instrs = append(instrs, associatedtokenaccount.NewCreateInstruction(payer, in.To, mint).Build())
	}

	instrs = append(instrs, token.NewTransferCheckedInstruction(
		in.Amount,
		in.Token.Decimals,
		source,
		mint,
		dest,
		in.From,
		[]solanago.PublicKey{},
	).Build())

	return instrs, nil
}
