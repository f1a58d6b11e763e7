package transfer

import (
	"fmt"
	"math"
	"strings"

	"github.com/brojonat/lazorpass/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// Token symbols accepted by SubmitTransfer besides raw mint addresses.
const (
	TokenSOL  = "SOL"
	TokenUSDC = "USDC"

	solDecimals  = 9
	usdcDecimals = 6
)

// Token is a resolved transfer asset. Mint is nil for native SOL.
type Token struct {
	Symbol   string
	Mint     *solanago.PublicKey
	Decimals uint8
}

// IsNative reports whether the token is native SOL.
func (t Token) IsNative() bool { return t.Mint == nil }

// MintString returns the mint address, or "" for native SOL.
func (t Token) MintString() string {
	if t.Mint == nil {
		return ""
	}
	return t.Mint.String()
}

// SwapMint is the mint swap routers use for the token. Native SOL trades as
// wrapped SOL.
func (t Token) SwapMint() solanago.PublicKey {
	if t.Mint == nil {
		return solanago.SolMint
	}
	return *t.Mint
}

// parseTokenKind resolves a token kind without touching the network.
// Arbitrary mints come back with needsDecimals set.
func parseTokenKind(kind string, usdcMint solanago.PublicKey) (tok Token, needsDecimals bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "", TokenSOL:
		return Token{Symbol: TokenSOL, Decimals: solDecimals}, false, nil
	case TokenUSDC:
		mint := usdcMint
		return Token{Symbol: TokenUSDC, Mint: &mint, Decimals: usdcDecimals}, false, nil
	}

	mint, err := solanago.PublicKeyFromBase58(strings.TrimSpace(kind))
	if err != nil {
		return Token{}, false, fmt.Errorf("%w: unknown token %q", wallet.ErrInvalidAddress, kind)
	}
	if mint.Equals(usdcMint) {
		return Token{Symbol: TokenUSDC, Mint: &mint, Decimals: usdcDecimals}, false, nil
	}
	return Token{Symbol: mint.String(), Mint: &mint}, true, nil
}

// checkAmount rejects amounts that can never be transferred.
func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("%w: %v must be a positive number", wallet.ErrInvalidAmount, amount)
	}
	return nil
}

// ToBaseUnits converts a display amount into integer base units, rounding to
// the nearest unit. 0.1 SOL is 100000000 lamports.
func ToBaseUnits(amount float64, decimals uint8) (uint64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}
	units := math.Round(amount * math.Pow10(int(decimals)))
	if units < 1 {
		return 0, fmt.Errorf("%w: %v is smaller than one base unit", wallet.ErrInvalidAmount, amount)
	}
	if units >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %v overflows base units", wallet.ErrInvalidAmount, amount)
	}
	return uint64(units), nil
}

// FromBaseUnits converts base units back into a display amount.
func FromBaseUnits(units uint64, decimals uint8) float64 {
	return float64(units) / math.Pow10(int(decimals))
}
