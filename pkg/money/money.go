package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in integer minor units. Balances and entry
// amounts only ever exist as Cents; no float arithmetic touches them.
type Cents int64

// ErrNonPositive is returned when an operation amount is zero or negative.
var ErrNonPositive = fmt.Errorf("amount must be a positive number of cents")

// ValidateAmount checks that an operation amount is positive and, when a cap
// is configured (cap > 0), does not exceed it.
func ValidateAmount(amount Cents, cap Cents) error {
	if amount <= 0 {
		return ErrNonPositive
	}
	if cap > 0 && amount > cap {
		return fmt.Errorf("amount %d exceeds maximum of %d cents", amount, cap)
	}
	return nil
}

// Decimal returns the amount in major units as an exact decimal.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Shift(-2)
}

// String formats the amount in major units, e.g. 12345 -> "123.45".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Int64 returns the raw minor-unit value.
func (c Cents) Int64() int64 {
	return int64(c)
}
