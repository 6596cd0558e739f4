package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every amount in
// the ledger. Columns are declared as NUMERIC(18, 8); AmountScale is the "8".
const AmountScale = 8

// AmountTotalDigits is the maximum number of total digits (integer +
// fractional) an amount may carry before it is rejected as an invariant
// violation.
const AmountTotalDigits = 18

// ParseAmount parses a decimal string into a scale-8, half-even-rounded
// Amount. It never returns a negative or zero value's error directly --
// callers must separately assert sign with Amount.Sign.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid amount %q: %v", ErrBadRequest, s, err)
	}

	return NormalizeAmount(d)
}

// NormalizeAmount rounds d to AmountScale fractional digits using
// half-even (banker's) rounding and rejects values that would not fit in
// the NUMERIC(18, 8) column.
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	rounded := d.RoundBank(AmountScale)

	if digits := countTotalDigits(rounded); digits > AmountTotalDigits {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %s exceeds (%d,%d) precision", ErrInvariantViolation, rounded.String(), AmountTotalDigits, AmountScale)
	}

	return rounded, nil
}

// countTotalDigits returns the number of significant decimal digits (both
// sides of the point) used by d once rounded to AmountScale.
func countTotalDigits(d decimal.Decimal) int {
	coeff := d.Coefficient()
	digits := len(coeff.String())
	if coeff.Sign() < 0 {
		digits--
	}
	return digits
}
