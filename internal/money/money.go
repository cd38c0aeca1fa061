// Package money holds the fixed-point amount type used for every balance,
// price and ledger figure. Amounts are stored as int64 paisa and converted to
// decimals only when they cross the JSON or CLI boundary.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// ErrPrecision reports an input finer than one minor unit.
var ErrPrecision = errors.New("more than 2 decimal places")

// Amount is a signed quantity of minor currency units.
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// FromMinor wraps a raw minor-unit value.
func FromMinor(v int64) Amount {
	return Amount(v)
}

// FromDecimal converts d exactly. Inputs with more than Scale fractional
// digits are rejected with ErrPrecision rather than rounded.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return 0, fmt.Errorf("amount %s: %w", d.String(), ErrPrecision)
	}
	return round(d)
}

// round converts d half away from zero to Scale digits.
func round(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(Scale).Round(0)
	bi := minor.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return Amount(bi.Int64()), nil
}

// Parse reads a plain decimal string such as "1200" or "99.5".
func Parse(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return FromDecimal(d)
}

// MustParse is Parse for literals in tests and seed data.
func MustParse(raw string) Amount {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Minor() int64 {
	return int64(a)
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) IsNegative() bool { return a < 0 }

// MulQty multiplies a unit price by an item quantity.
func (a Amount) MulQty(qty int) Amount {
	return a * Amount(qty)
}

// Percent returns pct percent of a, rounded to the nearest minor unit.
func (a Amount) Percent(pct decimal.Decimal) Amount {
	out, err := round(a.Decimal().Mul(pct).Div(hundred))
	if err != nil {
		return 0
	}
	return out
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// Sum adds amounts in order.
func Sum(values ...Amount) Amount {
	var total Amount
	for _, v := range values {
		total += v
	}
	return total
}

// MarshalJSON renders the amount as a bare JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts JSON numbers and numeric strings. Failures surface as
// *json.UnmarshalTypeError so the decoder can name the offending field.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if errors.Is(err, ErrPrecision) {
		return &json.UnmarshalTypeError{Value: raw + " (" + ErrPrecision.Error() + ")", Type: reflect.TypeOf(*a)}
	}
	if err != nil {
		return &json.UnmarshalTypeError{Value: fmt.Sprintf("%q", raw), Type: reflect.TypeOf(*a)}
	}
	*a = parsed
	return nil
}

// Value stores the amount as its minor-unit integer.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
	case int32:
		*a = Amount(v)
	case int:
		*a = Amount(v)
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	case nil:
		*a = 0
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}

func (a *Amount) scanString(raw string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("money: cannot scan %q", raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("money: fractional minor units %q", raw)
	}
	*a = Amount(d.IntPart())
	return nil
}
