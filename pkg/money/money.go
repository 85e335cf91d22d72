// Package money holds the single currency value type used across the
// payment core. Amounts are integer minor units (cents); major-unit
// strings only appear when parsing user input or printing.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const minorPerMajor = 100

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooPrecise    = errors.New("amount supports up to 2 decimals")
)

// Money is an amount in minor units (cents).
type Money int64

// Zero is the zero amount.
const Zero Money = 0

func FromMinor(minor int64) Money { return Money(minor) }

// Minor returns the amount in cents, the unit processor endpoints expect.
func (m Money) Minor() int64 { return int64(m) }

func (m Money) IsNegative() bool { return m < 0 }

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats the amount in major units with exactly two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Parse converts a major-unit decimal string ("10.5", "-3", "100.00")
// into Money. At most two fractional digits are accepted.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	neg := false

	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 || parts[0] == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	frac := "00"

	if len(parts) == 2 {
		if len(parts[1]) == 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}

		if len(parts[1]) > 2 {
			return 0, ErrTooPrecise
		}

		frac = parts[1] + strings.Repeat("0", 2-len(parts[1]))
	}

	// ParseUint rejects NaN, Inf, exponents and embedded signs.
	ip, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: integer part: %w", ErrInvalidAmount, err)
	}

	if ip > math.MaxInt64/minorPerMajor-1 {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}

	fp, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: fractional part: %w", ErrInvalidAmount, err)
	}

	total := int64(ip)*minorPerMajor + int64(fp)
	if neg {
		total = -total
	}

	return Money(total), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return m
}

// FromDecimal converts a major-unit decimal, rounding half away from zero
// to whole cents.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}
