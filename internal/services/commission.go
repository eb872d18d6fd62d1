package services

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeCommission returns the commission owed on an order total at the given percentage,
// rounded half-up to two decimals. The boolean is false when no commission is due.
func ComputeCommission(orderTotal, percent decimal.Decimal) (decimal.Decimal, bool) {
	if !percent.IsPositive() || !orderTotal.IsPositive() {
		return decimal.Zero, false
	}
	amount := orderTotal.Mul(percent).Div(hundred).Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}
