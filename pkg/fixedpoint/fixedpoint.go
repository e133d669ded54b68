package fixedpoint

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// WAD is the fixed-point scale for percentages: WAD == 100%.
var WAD = decimal.New(1, 18)

// EtherDecimals is the number of base-unit decimals of the native currency.
const EtherDecimals = 18

// ParseUnits converts a human amount such as "1.5" into integral base units.
func ParseUnits(s string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
	}
	units := d.Shift(decimals)
	if !units.IsInteger() {
		return decimal.Zero, fmt.Errorf("invalid amount: %s has more than %d decimals", s, decimals)
	}
	return units.Truncate(0), nil
}

// Ether parses s with 18 decimals and panics on malformed input. Meant for
// constants and tests.
func Ether(s string) decimal.Decimal {
	d, err := ParseUnits(s, EtherDecimals)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatUnits renders base units as a human amount.
func FormatUnits(units decimal.Decimal, decimals int32) string {
	return units.Shift(-decimals).String()
}

// MulDiv returns a*b/denom truncated toward zero. The product is computed at
// full precision before dividing.
func MulDiv(a, b, denom decimal.Decimal) (decimal.Decimal, error) {
	if denom.IsZero() {
		return decimal.Zero, fmt.Errorf("division by zero")
	}
	q, _ := a.Mul(b).QuoRem(denom, 0)
	return q, nil
}

// PercentFromFraction converts a fraction such as "0.025" into WAD-scaled units.
func PercentFromFraction(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid percent: %w", err)
	}
	p := d.Mul(WAD)
	if !p.IsInteger() {
		return decimal.Zero, fmt.Errorf("invalid percent: %s exceeds 18 decimals", s)
	}
	return p.Truncate(0), nil
}

// FractionFromPercent is the inverse of PercentFromFraction.
func FractionFromPercent(p decimal.Decimal) string {
	return p.Shift(-18).String()
}

// IsPositiveInteger reports whether d is a whole number greater than zero.
func IsPositiveInteger(d decimal.Decimal) bool {
	return d.IsPositive() && d.IsInteger()
}
