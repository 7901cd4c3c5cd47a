// Package money holds fixed-point currency amounts with two fractional digits.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Amount is a currency value expressed in minor units (cents).
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// MaxCents is the largest magnitude a numeric(14,2) column can hold.
const MaxCents int64 = 99_999_999_999_999

var (
	// ErrPrecision indicates a value with more than two fractional digits.
	ErrPrecision = errors.New("money: at most two fractional digits allowed")
	// ErrOutOfRange indicates a value beyond MaxCents.
	ErrOutOfRange = errors.New("money: amount out of range")
	// ErrOverflow indicates arithmetic whose result leaves the representable range.
	ErrOverflow = errors.New("money: arithmetic overflow")
)

// FromCents wraps a minor-unit count.
func FromCents(cents int64) Amount {
	return Amount(cents)
}

// Parse converts a decimal string such as "12.5" into an Amount.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal converts an exact decimal into an Amount.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, ErrPrecision
	}
	if cents.Abs().GreaterThan(decimal.NewFromInt(MaxCents)) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return Amount(cents.IntPart()), nil
}

// Cents returns the minor-unit count.
func (a Amount) Cents() int64 {
	return int64(a)
}

// Decimal returns the amount as an exact decimal with exponent -2.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// Mul multiplies by an integer quantity.
func (a Amount) Mul(qty int64) (Amount, error) {
	if a == 0 || qty == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(magnitude(int64(a)), magnitude(qty))
	if hi != 0 || lo > uint64(MaxCents) {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, a, qty)
	}
	p := int64(lo)
	if (a < 0) != (qty < 0) {
		p = -p
	}
	return Amount(p), nil
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) (Amount, error) {
	d := int64(a) - int64(b)
	if (int64(a)^int64(b))&(int64(a)^d) < 0 {
		return 0, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return bounded(d)
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	s := int64(a) + int64(b)
	if (int64(a)^s)&(int64(b)^s) < 0 {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return bounded(s)
}

func bounded(cents int64) (Amount, error) {
	if cents > MaxCents || cents < -MaxCents {
		return 0, fmt.Errorf("%w: %d cents", ErrOverflow, cents)
	}
	return Amount(cents), nil
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return -uint64(v)
	}
	return uint64(v)
}

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool {
	return a < 0
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a fixed two-digit string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "12.50" and 12.5.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
