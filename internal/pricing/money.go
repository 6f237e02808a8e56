package pricing

import "github.com/shopspring/decimal"

// Money is a decimal monetary amount in the store currency.
type Money = decimal.Decimal

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Round2 rounds a monetary amount to 2 decimal places (half away from zero).
func Round2(m Money) Money {
	return m.Round(2)
}

// clampMoney bounds m to [lo, hi].
func clampMoney(m, lo, hi Money) Money {
	if m.LessThan(lo) {
		return lo
	}
	if m.GreaterThan(hi) {
		return hi
	}
	return m
}

func nonNegative(m Money) Money {
	if m.IsNegative() {
		return zero
	}
	return m
}

func decimalInt(n int) Money {
	return decimal.NewFromInt(int64(n))
}
