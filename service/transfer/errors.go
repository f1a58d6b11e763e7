package transfer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/lazorpass/service/wallet"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var insufficientFundsMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"no record of a prior credit",
	"custom program error: 0x1",
}

var rejectionMarkers = []string{
	"rejected",
	"denied",
	"not allowed",
	"disallowed",
	"policy",
	"signature verification",
	"missing signature",
}

// classifySendError maps a signing or submission failure onto the wallet
// error kinds. Rejections are recognised only in JSON-RPC error replies.
// Anything unrecognised is a NetworkError.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	var netErr *wallet.NetworkError
	if errors.Is(err, wallet.ErrSigningRejected) ||
		errors.Is(err, wallet.ErrInsufficientFunds) ||
		errors.As(err, &netErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	var rpcErr *jsonrpc.RPCError
	isRPCErr := errors.As(err, &rpcErr)
	if isRPCErr {
		msg = strings.ToLower(fmt.Sprintf("%s %v", rpcErr.Message, rpcErr.Data))
	}

	for _, marker := range insufficientFundsMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", wallet.ErrInsufficientFunds, err)
		}
	}
	// Rejection wording only counts when the signer or node answered;
	// transport failures such as "connection rejected" stay network errors.
	if isRPCErr {
		for _, marker := range rejectionMarkers {
			if strings.Contains(msg, marker) {
				return fmt.Errorf("%w: %v", wallet.ErrSigningRejected, err)
			}
		}
	}
	return &wallet.NetworkError{Cause: err}
}
