package txbuilder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteDecimals is the precision of the native quote currency (BNB/ETH).
const QuoteDecimals = 18

// ParseUnits converts a human decimal string to base units, truncating any
// precision beyond decimals. It never rounds up.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, errors.New("amount is empty")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, errors.New("amount must be non-negative")
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FormatUnits renders base units as an exact decimal string.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}

// HumanFloat is for display only; it loses precision at large magnitudes.
func HumanFloat(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).InexactFloat64()
}

// ParseBaseUnits parses an integer amount already in base units, decimal or 0x-hex.
func ParseBaseUnits(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("value is empty")
	}
	base := 10
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		value = value[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(value, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if v.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return v, nil
}

// GweiToWei converts a (possibly fractional) gwei amount to wei, truncating.
func GweiToWei(gwei float64) (*big.Int, error) {
	if gwei < 0 {
		return nil, errors.New("gwei must be non-negative")
	}
	return decimal.NewFromFloat(gwei).Shift(9).Truncate(0).BigInt(), nil
}
