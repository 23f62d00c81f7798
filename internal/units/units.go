package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty is returned for blank input; callers treat it as "no amount entered".
	ErrEmpty    = errors.New("empty amount")
	ErrNegative = errors.New("negative amount")
)

// Amount views a raw token amount as a decimal.
func Amount(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}

// FormatUnits renders a raw token amount with the token's decimals.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return Amount(value, decimals).StringFixed(int32(decimals))
}

// FormatShort renders at most places fractional digits, trimming trailing zeros.
// Halves round away from zero.
func FormatShort(value *big.Int, decimals uint8, places int) string {
	if value == nil {
		return "0"
	}
	return Amount(value, decimals).Round(int32(places)).String()
}

// ParseUnits converts a human decimal string into raw units.
// Extra fractional digits beyond decimals are an error, never silently truncated.
func ParseUnits(text string, decimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(text, "-") {
		return nil, ErrNegative
	}
	// decimal accepts scientific notation; amounts are typed in plain digits.
	if strings.ContainsAny(text, "eE") {
		return nil, fmt.Errorf("invalid amount %q", text)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", text)
	}
	if d.Exponent() < -int32(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", text, decimals)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}
