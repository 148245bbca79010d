// Package money wraps shopspring/decimal for the monetary figures that
// feed the cost-benefit metric: branding revenue and penalties
// (shunting energy stays a float64 kWh figure). Adapted from the teacher's pkg/decimal — same
// shape, scoped down to the one numeric type the induction domain
// actually needs money-grade precision for.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with exact decimal arithmetic.
type Amount struct {
	value decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{value: decimal.Zero}

// New creates an Amount from a float64.
//
// Monetary inputs in this codebase originate from ingestion records
// (JSON numbers) rather than user-typed strings, so unlike the
// teacher's Price type this constructor accepts a float directly.
func New(f float64) Amount {
	return Amount{value: decimal.NewFromFloat(f)}
}

// NewFromString parses an Amount from a decimal string.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount: %w", err)
	}
	return Amount{value: d}, nil
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return Amount{value: a.value.Add(b.value)} }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return Amount{value: a.value.Sub(b.value)} }

// Mul returns a*factor.
func (a Amount) Mul(factor float64) Amount {
	return Amount{value: a.value.Mul(decimal.NewFromFloat(factor))}
}

// Div returns a/b; division by zero returns Zero rather than erroring,
// matching §4.3's "clipped to 1 / guarded to 0 contribution" treatment
// of degenerate denominators elsewhere in the scoring layer.
func (a Amount) Div(b Amount) Amount {
	if b.value.IsZero() {
		return Zero
	}
	return Amount{value: a.value.Div(b.value)}
}

// Cmp compares two amounts.
func (a Amount) Cmp(b Amount) int { return a.value.Cmp(b.value) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.value.IsZero() }

// IsNegative reports whether the amount is negative.
func (a Amount) IsNegative() bool { return a.value.IsNegative() }

// Float64 returns the float64 approximation, for feeding into the
// plain-float metrics formulas of §4.8.
func (a Amount) Float64() float64 {
	f, _ := a.value.Float64()
	return f
}

// String renders the amount fixed to 2 places.
func (a Amount) String() string { return a.value.StringFixed(2) }

// Abs returns the absolute value.
func (a Amount) Abs() Amount { return Amount{value: a.value.Abs()} }
