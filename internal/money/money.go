// Package money renders kobo, the unit balances and amounts are stored in, as
// naira for clients.
package money

import "github.com/shopspring/decimal"

const minorDigits = 2

// FormatMinor renders kobo as a fixed two decimal naira string.
func FormatMinor(value int64) string {
	return decimal.New(value, -minorDigits).StringFixed(minorDigits)
}
