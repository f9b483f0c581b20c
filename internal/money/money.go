// Package money converts between external decimal amounts and the int64 minor
// units (cents) used everywhere inside the engine.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fraction digits of the minor unit.
const Scale = 2

// maxLiteral bounds the length of an accepted amount literal.
const maxLiteral = 40

var (
	ErrInvalidAmount = errors.New("money: invalid amount")
	ErrTooPrecise    = errors.New("money: more than 2 fraction digits")
	ErrOutOfRange    = errors.New("money: amount out of range")

	// Plain decimal notation only, no exponents.
	literal = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(1<<63 - 1)
	minCents = decimal.NewFromInt(-1 << 63)
)

// FromDecimal converts a decimal major-unit value into cents. Values with more
// precision than a cent are rejected instead of silently rounded.
func FromDecimal(d decimal.Decimal) (int64, error) {
	switch exp := d.Exponent(); {
	case d.IsZero():
		return 0, nil
	case exp < -maxLiteral:
		return 0, ErrTooPrecise
	case exp > 19:
		return 0, ErrOutOfRange
	}
	c := d.Mul(hundred)
	if !c.Equal(c.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if c.GreaterThan(maxCents) || c.LessThan(minCents) {
		return 0, ErrOutOfRange
	}
	return c.IntPart(), nil
}

// ToDecimal renders cents as a decimal in major units.
func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -Scale)
}

// Parse reads "1234.5", "1234.50" or "1234" into cents. Exponent notation
// and literals longer than 40 characters are rejected.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if len(s) > maxLiteral {
		return 0, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, maxLiteral)
	}
	if !literal.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// Format renders cents with exactly two fraction digits.
func Format(cents int64) string {
	return ToDecimal(cents).StringFixed(Scale)
}

// Amount is a cents value that travels over JSON as a decimal string. It
// accepts both JSON strings and JSON numbers on input.
type Amount int64

// Cents returns the raw minor-unit value.
func (a Amount) Cents() int64 { return int64(a) }

func (a Amount) String() string { return Format(int64(a)) }

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(Format(int64(a)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	cents, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = Amount(cents)
	return nil
}
