package pricing

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-kasir/internal/common"
)

// Money represents a monetary value with exact decimal arithmetic.
type Money = decimal.Decimal

// MaxAmount bounds every amount accepted from input; larger values coerce to
// zero like any other unusable input.
var MaxAmount = decimal.New(1, 12)

const (
	maxScale    = 12
	maxExponent = 64
	maxInputLen = 64
)

var hundred = decimal.NewFromInt(100)

// Zero returns the zero amount.
func Zero() Money { return decimal.Zero }

// Round2 rounds to two decimal places, halves away from zero.
func Round2(x Money) Money {
	return x.Round(2)
}

// PercentOf returns base * ratePercent / 100. The rate is not range checked.
func PercentOf(base, ratePercent Money) Money {
	return base.Mul(ratePercent).Div(hundred)
}

// MaxZero clamps negative amounts to zero.
func MaxZero(x Money) Money {
	if x.IsNegative() {
		return decimal.Zero
	}
	return x
}

// ParseMoney converts user input into Money. Thousands separators, the taka
// sign and Bangla digits are accepted; anything else that does not parse
// becomes zero so partially filled forms keep working.
func ParseMoney(value string) Money {
	cleaned := common.ASCIIDigits(strings.TrimSpace(value))
	cleaned = strings.NewReplacer(",", "", "৳", "", " ", "").Replace(cleaned)
	if cleaned == "" || len(cleaned) > maxInputLen {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return bounded(parsed)
}

// bounded checks the exponent before any comparison: comparing or rounding a
// value like 1e50000000 rescales it to a fifty-million digit integer.
func bounded(m Money) Money {
	exp := m.Exponent()
	if exp > maxScale || exp < -maxExponent {
		return decimal.Zero
	}
	if exp < -maxScale {
		m = m.Round(maxScale)
	}
	if m.Abs().GreaterThan(MaxAmount) {
		return decimal.Zero
	}
	return m
}

// ParseQuantity converts user input into a quantity, falling back to zero.
func ParseQuantity(value string) int {
	return common.AtoiDefault(strings.TrimSpace(common.ASCIIDigits(value)), 0)
}

// MoneyFromAny coerces a decoded JSON value into Money with the same
// fallback-to-zero policy as ParseMoney.
func MoneyFromAny(value any) Money {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case Money:
		return bounded(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero
		}
		return bounded(decimal.NewFromFloat(v))
	case float32:
		return MoneyFromAny(float64(v))
	case int:
		return bounded(decimal.NewFromInt(int64(v)))
	case int64:
		return bounded(decimal.NewFromInt(v))
	case int32:
		return bounded(decimal.NewFromInt(int64(v)))
	case json.Number:
		return ParseMoney(v.String())
	case string:
		return ParseMoney(v)
	default:
		return decimal.Zero
	}
}

// QuantityFromAny coerces a decoded JSON value into a quantity.
func QuantityFromAny(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0
		}
		return int(v)
	case json.Number:
		return ParseQuantity(v.String())
	case string:
		return ParseQuantity(v)
	default:
		return 0
	}
}
