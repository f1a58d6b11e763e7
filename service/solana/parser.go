package solana

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	SystemProgramID     = solana.SystemProgramID
	TokenProgramID      = solana.TokenProgramID
	Token2022ProgramID  = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	MemoProgramIDSPL    = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

const (
	systemTransferInstruction       = uint32(2)
	tokenTransferInstruction        = uint8(3)
	tokenTransferCheckedInstruction = uint8(12)
)

// signatureToDomain converts signature-list metadata to a Transaction.
// Amount, mint, and memo need the full transaction and are left empty.
func signatureToDomain(sig *rpc.TransactionSignature) *Transaction {
	txn := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}
	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time()
	}
	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
	}
	return txn
}

// parseTransactionFromResult extracts transfer details and memo from a full
// GetTransaction result. Failed transactions carry metadata only.
func parseTransactionFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := signatureToDomain(sig)
	if sig.Err != nil || result == nil || result.Transaction == nil {
		return txn, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			if amount, from, to, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				txn.Amount = amount
				txn.FromAddress = keyString(from)
				txn.ToAddress = keyString(to)
			}

		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			if t, err := parseTokenTransfer(instruction, accountKeys); err == nil {
				txn.Amount = t.amount
				txn.TokenMint = keyString(t.mint)
				txn.FromAddress = keyString(t.authority)
				txn.ToAddress = keyString(t.destination)
			}

		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if utf8.Valid(instruction.Data) && len(instruction.Data) > 0 {
				memo := string(instruction.Data)
				txn.Memo = &memo
			}
		}
	}

	return txn, nil
}

// parseSystemTransfer decodes a System Program Transfer:
// data [0..4] = u32 instruction type (2), [4..12] = u64 lamports; accounts [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	if len(instruction.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if kind := binary.LittleEndian.Uint32(instruction.Data[0:4]); kind != systemTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", kind)
	}
	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])
	return amount, accountAt(instruction, accountKeys, 0), accountAt(instruction, accountKeys, 1), nil
}

type tokenTransfer struct {
	amount      uint64
	mint        *solana.PublicKey
	destination *solana.PublicKey
	authority   *solana.PublicKey
}

// parseTokenTransfer decodes SPL Transfer (3) and TransferChecked (12).
// Transfer accounts: [source, destination, authority].
// TransferChecked accounts: [source, mint, destination, authority].
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*tokenTransfer, error) {
	if len(instruction.Data) < 9 {
		return nil, fmt.Errorf("token instruction data too short: %d bytes", len(instruction.Data))
	}
	amount := binary.LittleEndian.Uint64(instruction.Data[1:9])

	switch instruction.Data[0] {
	case tokenTransferInstruction:
		return &tokenTransfer{
			amount:      amount,
			destination: accountAt(instruction, accountKeys, 1),
			authority:   accountAt(instruction, accountKeys, 2),
		}, nil
	case tokenTransferCheckedInstruction:
		if len(instruction.Accounts) < 4 {
			return nil, fmt.Errorf("transferChecked missing accounts")
		}
		return &tokenTransfer{
			amount:      amount,
			mint:        accountAt(instruction, accountKeys, 1),
			destination: accountAt(instruction, accountKeys, 2),
			authority:   accountAt(instruction, accountKeys, 3),
		}, nil
	default:
		return nil, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) *solana.PublicKey {
	if pos >= len(instruction.Accounts) {
		return nil
	}
	idx := int(instruction.Accounts[pos])
	if idx >= len(accountKeys) {
		return nil
	}
	key := accountKeys[idx]
	return &key
}

func keyString(k *solana.PublicKey) *string {
	if k == nil {
		return nil
	}
	s := k.String()
	return &s
}
