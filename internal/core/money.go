package core

import "github.com/shopspring/decimal"

// Epsilon absorbs rounding in every "is this paid off" and drift comparison.
var Epsilon = decimal.RequireFromString("0.01")

// approxEqual reports |a-b| < Epsilon.
func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// drifted reports |a-b| > Epsilon.
func drifted(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(Epsilon)
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
