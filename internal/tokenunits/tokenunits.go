// Package tokenunits provides decimal-string parsing and formatting for
// arbitrary ERC-20-like tokens. Unlike a fixed-decimals currency, every
// service in the catalog can be priced in a different token, so the decimal
// count is a parameter rather than a constant.
package tokenunits

import (
	"math/big"
	"strings"
)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation given the token's decimal count. Returns
// (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to `decimals` places
func Parse(s string, decimals int) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	combined := whole + frac
	if combined == "" {
		combined = "0"
	}
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly `decimals` places.
func Format(amount *big.Int, decimals int) string {
	if amount == nil {
		return zeroString(decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	if decimals == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	cut := len(s) - decimals
	result := s[:cut] + "." + s[cut:]
	if neg {
		result = "-" + result
	}
	return result
}

func zeroString(decimals int) string {
	if decimals == 0 {
		return "0"
	}
	return "0." + strings.Repeat("0", decimals)
}

// BaseUnitsFee splits amount into (fee, remainder) given a fee expressed in
// basis points (e.g. 500 for 5%; see FeeBPSFromPercent). Fee is computed as
// amount * feeBPS / 10000 using integer math so the split is deterministic
// and never loses a wei/unit to rounding ambiguity — share always equals
// amount - fee exactly.
func BaseUnitsFee(amount *big.Int, feeBPS int64) (fee, share *big.Int) {
	if amount == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(amount, big.NewInt(feeBPS))
	fee.Div(fee, big.NewInt(10000))
	share = new(big.Int).Sub(amount, fee)
	return fee, share
}

// FeeBPSFromPercent converts a fee expressed as a fraction (e.g. 0.05) into
// basis points (e.g. 500), rounding to the nearest integer.
func FeeBPSFromPercent(percent float64) int64 {
	return int64(percent*10000 + 0.5)
}
