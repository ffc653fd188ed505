/**
 * @description
 * Fixed-point amount type shared by campaigns, donations and disbursements.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest ledger unit (1e-7), which matches
 *   the 7 fractional digits the ledger network uses and avoids floating-point drift.
 * - Parsing and formatting go through shopspring/decimal so that wire values like
 *   "150.5" and "150.5000000" map to the same stored value.
 */

package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by an Amount.
const AmountScale = 7

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Amount is a non-floating monetary value expressed in 1e-7 units.
type Amount int64

// ParseAmount converts a decimal string into an Amount. It rejects values with more
// than seven fractional digits and values outside the int64 range.
func ParseAmount(raw string) (Amount, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, Errorf(KindInvalidAmount, "amount is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, Wrap(KindInvalidAmount, err, "amount %q is not a decimal number", value)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts an exact decimal into an Amount.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Truncate(AmountScale)) {
		return 0, Errorf(KindInvalidAmount, "amount %s has more than %d fractional digits", d.String(), AmountScale)
	}
	scaled := d.Shift(AmountScale)
	if scaled.Abs().GreaterThan(maxAmount) {
		return 0, Errorf(KindInvalidAmount, "amount %s is out of range", d.String())
	}
	return Amount(scaled.IntPart()), nil
}

// MustParseAmount is ParseAmount for literals that are known to be valid.
func MustParseAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the exact decimal representation of the amount.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountScale)
}

// String formats the amount with exactly seven fractional digits, e.g. "150.0000000".
func (a Amount) String() string {
	return a.Decimal().StringFixed(AmountScale)
}

func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b, failing instead of wrapping around on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, Errorf(KindInvalidAmount, "amount overflow adding %s to %s", b, a)
	}
	return a + b, nil
}

// SumAmounts adds a list of amounts, stopping at the first overflow.
func SumAmounts(values ...Amount) (Amount, error) {
	var total Amount
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// MarshalJSON encodes the amount as a fixed-point string to keep precision on the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Wrap(KindInvalidAmount, err, "amount must be a string or number")
		}
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
