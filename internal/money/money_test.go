package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSafeDivZeroDivisor(t *testing.T) {
	_, ok := SafeDiv(d("10"), decimal.Zero)
	assert.False(t, ok)

	v, ok := SafeDiv(d("195"), d("2"))
	assert.True(t, ok)
	assert.True(t, v.Equal(d("97.5")), "got %s", v)
}

func TestSafeDivKeepsPrecision(t *testing.T) {
	// 1/3 carried far enough that a round-trip multiply stays within
	// a hair of the dividend.
	v, ok := SafeDiv(d("1"), d("3"))
	assert.True(t, ok)
	back := v.Mul(d("3"))
	diff := d("1").Sub(back).Abs()
	assert.True(t, diff.LessThan(d("0.0000000000000000001")), "diff %s", diff)
}

func TestTruncateStep(t *testing.T) {
	assert.True(t, TruncateStep(d("1.23456"), d("0.001")).Equal(d("1.234")))
	assert.True(t, TruncateStep(d("0.999"), d("0.01")).Equal(d("0.99")))
	// Truncation never rounds up.
	assert.True(t, TruncateStep(d("1.999999"), d("0.1")).Equal(d("1.9")))
	// Zero step passes through.
	assert.True(t, TruncateStep(d("1.5"), decimal.Zero).Equal(d("1.5")))
}

func TestPctChange(t *testing.T) {
	v, ok := PctChange(d("100"), d("92"))
	assert.True(t, ok)
	assert.True(t, v.Equal(d("-0.08")), "got %s", v)

	_, ok = PctChange(decimal.Zero, d("50"))
	assert.False(t, ok)
}

func TestFloatBoundaryRoundTrip(t *testing.T) {
	orig := d("103.57")
	assert.True(t, FromFloat(ToFloat(orig)).Equal(orig))
}
