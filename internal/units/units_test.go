package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.500000", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "-0.000001", FormatUnits(big.NewInt(-1), 6))
	assert.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
	assert.Equal(t, "0", FormatUnits(nil, 18))
}

func TestFormatShort(t *testing.T) {
	assert.Equal(t, "1.5", FormatShort(big.NewInt(1_500_000), 6, 4))
	assert.Equal(t, "2", FormatShort(big.NewInt(2_000_000), 6, 4))
	assert.Equal(t, "0.1235", FormatShort(big.NewInt(123_456), 6, 4))
	assert.Equal(t, "0.0001", FormatShort(big.NewInt(50), 6, 4), "halves round away from zero")
	assert.Equal(t, "0", FormatShort(big.NewInt(-10), 6, 4))
	assert.Equal(t, "0", FormatShort(nil, 6, 4))
}

func TestAmount(t *testing.T) {
	assert.True(t, Amount(big.NewInt(1_500_000), 6).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, Amount(nil, 6).IsZero())
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", v.String())

	v, err = ParseUnits(".25", 18)
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", v.String())

	v, err = ParseUnits("100", 0)
	require.NoError(t, err)
	assert.Equal(t, "100", v.String())
}

func TestParseUnitsRejects(t *testing.T) {
	_, err := ParseUnits("  ", 6)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = ParseUnits("-1", 6)
	require.ErrorIs(t, err, ErrNegative)

	_, err = ParseUnits("1.0000001", 6)
	require.Error(t, err)

	_, err = ParseUnits("1e6", 6)
	require.Error(t, err)

	_, err = ParseUnits(".", 6)
	require.Error(t, err)

	_, err = ParseUnits("1.2.3", 6)
	require.Error(t, err)

	_, err = ParseUnits("0x10", 6)
	require.Error(t, err)
}

func TestParseFormatAgree(t *testing.T) {
	v, err := ParseUnits("12.345678", 6)
	require.NoError(t, err)
	assert.Equal(t, "12.345678", FormatUnits(v, 6))
}
