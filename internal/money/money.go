// Package money pins the decimal policy used for every price, quantity
// and percentage in the engine: shopspring decimals end to end, division
// carried to 28 digits, truncation toward zero, and float conversion
// only at the exchange boundary through the two functions below.
package money

import "github.com/shopspring/decimal"

func init() {
	// Division must not lose precision before averages are compared.
	decimal.DivisionPrecision = 28
}

// Hundred is shared by percent displays.
var Hundred = decimal.NewFromInt(100)

// SafeDiv divides a by b, reporting false instead of panicking on a
// zero divisor. Callers treat false as "no value", not as an error.
func SafeDiv(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.Div(b), true
}

// FromFloat converts an exchange-native float into the decimal domain.
// The only sanctioned float-to-decimal crossing.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// ToFloat converts a decimal for an exchange call or talib input.
// The only sanctioned decimal-to-float crossing.
func ToFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// TruncateStep rounds qty down (toward zero) to an exact multiple of
// the exchange step size. A zero step returns qty unchanged.
func TruncateStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Truncate(0).Mul(step)
}

// Pct returns v scaled by a fraction-of-one percentage.
func Pct(v, fraction decimal.Decimal) decimal.Decimal {
	return v.Mul(fraction)
}

// PctChange returns (to-from)/from, false when from is zero.
func PctChange(from, to decimal.Decimal) (decimal.Decimal, bool) {
	return SafeDiv(to.Sub(from), from)
}
