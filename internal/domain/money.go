/**
 * @description
 * Money is the fixed-scale (two fractional digits) decimal type used for every
 * balance and amount in the service. All arithmetic goes through
 * shopspring/decimal; binary floats never touch monetary values.
 *
 * @notes
 * - The payment gateway reports amounts in kobo (integer, 100x naira);
 *   MoneyFromKobo / Kobo convert at the boundary.
 * - Division rounds half-to-even so repeated splits do not drift.
 */

package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an immutable fixed-scale decimal amount.
type Money struct {
	dec decimal.Decimal
}

// ZeroMoney is the zero amount.
var ZeroMoney = Money{}

// NewMoney builds a Money from naira and kobo parts, e.g. NewMoney(2500, 50) = 2500.50.
func NewMoney(units int64, cents int64) Money {
	return Money{dec: decimal.NewFromInt(units).Add(decimal.New(cents, -2))}
}

// MoneyFromKobo converts a gateway kobo amount to Money.
func MoneyFromKobo(kobo int64) Money {
	return Money{dec: decimal.New(kobo, -2)}
}

// MoneyFromString parses a decimal string such as "2500.00".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{dec: d.Round(2)}, nil
}

// MoneyFromDecimal wraps an already-parsed decimal, normalised to two places.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{dec: d.Round(2)}
}

// Kobo returns the amount as integer kobo.
func (m Money) Kobo() int64 {
	return m.dec.Shift(2).IntPart()
}

func (m Money) Add(o Money) Money { return Money{dec: m.dec.Add(o.dec)} }
func (m Money) Sub(o Money) Money { return Money{dec: m.dec.Sub(o.dec)} }

// Mul multiplies by an integer factor.
func (m Money) Mul(n int64) Money {
	return Money{dec: m.dec.Mul(decimal.NewFromInt(n))}
}

// DivInt divides by an integer count, rounding half-to-even to two places.
func (m Money) DivInt(n int64) Money {
	return Money{dec: m.dec.Div(decimal.NewFromInt(n)).RoundBank(2)}
}

// Cmp returns -1, 0 or +1 comparing m against o.
func (m Money) Cmp(o Money) int     { return m.dec.Cmp(o.dec) }
func (m Money) Equal(o Money) bool  { return m.dec.Equal(o.dec) }
func (m Money) LessThan(o Money) bool { return m.dec.LessThan(o.dec) }
func (m Money) IsPositive() bool    { return m.dec.IsPositive() }
func (m Money) IsNegative() bool    { return m.dec.IsNegative() }
func (m Money) IsZero() bool        { return m.dec.IsZero() }

// Abs returns the absolute value.
func (m Money) Abs() Money { return Money{dec: m.dec.Abs()} }

// Decimal exposes the underlying decimal for split computations.
func (m Money) Decimal() decimal.Decimal { return m.dec }

// String renders with exactly two fractional digits, e.g. "2500.00".
func (m Money) String() string { return m.dec.StringFixed(2) }

// MarshalJSON renders the amount as a JSON string to avoid float coercion.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare decimal literals.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.dec = d.Round(2)
	return nil
}

// Scan implements sql.Scanner so Money maps onto NUMERIC(20,2) columns.
func (m *Money) Scan(src interface{}) error {
	if err := m.dec.Scan(src); err != nil {
		return err
	}
	m.dec = m.dec.Round(2)
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}
