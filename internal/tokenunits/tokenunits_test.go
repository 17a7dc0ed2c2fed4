package tokenunits

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WholeAmount(t *testing.T) {
	v, ok := Parse("1", 18)
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", v.String())
}

func TestParse_FractionalAmount(t *testing.T) {
	v, ok := Parse("0.5", 6)
	require.True(t, ok)
	assert.Equal(t, "500000", v.String())
}

func TestParse_TruncatesExcessDecimals(t *testing.T) {
	v, ok := Parse("1.1234567", 6)
	require.True(t, ok)
	assert.Equal(t, "1123456", v.String())
}

func TestParse_RejectsNegative(t *testing.T) {
	_, ok := Parse("-1", 6)
	assert.False(t, ok)
}

func TestParse_RejectsMultipleDecimalPoints(t *testing.T) {
	_, ok := Parse("1.2.3", 6)
	assert.False(t, ok)
}

func TestParse_Empty(t *testing.T) {
	v, ok := Parse("", 6)
	require.True(t, ok)
	assert.Equal(t, "0", v.String())
}

func TestFormat_RoundTrip(t *testing.T) {
	v, ok := Parse("1.500000", 6)
	require.True(t, ok)
	assert.Equal(t, "1.500000", Format(v, 6))
}

func TestFormat_ZeroDecimals(t *testing.T) {
	assert.Equal(t, "42", Format(big.NewInt(42), 0))
}

func TestFormat_Nil(t *testing.T) {
	assert.Equal(t, "0.000000", Format(nil, 6))
}

func TestBaseUnitsFee_SplitSumsToAmount(t *testing.T) {
	amount := big.NewInt(1_000_000_000_000_000_000) // 1e18
	fee, share := BaseUnitsFee(amount, FeeBPSFromPercent(0.05))
	assert.Equal(t, "50000000000000000", fee.String())
	assert.Equal(t, "950000000000000000", share.String())
	sum := new(big.Int).Add(fee, share)
	assert.Equal(t, amount, sum)
}

func TestFeeBPSFromPercent(t *testing.T) {
	assert.Equal(t, int64(500), FeeBPSFromPercent(0.05))
	assert.Equal(t, int64(0), FeeBPSFromPercent(0))
}
