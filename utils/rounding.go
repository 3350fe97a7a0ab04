package utils

import "github.com/shopspring/decimal"

// Persisted precision boundaries. Intermediate computation keeps full
// decimal precision; rounding happens only where a value is stored or
// returned to a caller.
const (
	CurrencyPlaces = 2
	QuantityPlaces = 3
)

// RoundCurrency rounds half away from zero at 2 decimals.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// RoundQuantity rounds half away from zero at 3 decimals. Rates share the
// same precision as quantities.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// RoundToWholeUnit rounds to an integer currency amount. Grand totals are
// always whole minor-currency-unit values; the remainder is carried in the
// order's round discount.
func RoundToWholeUnit(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// RoundDiscountFor returns the signed correction that takes raw to its
// whole-unit rounding: round(raw) - raw.
func RoundDiscountFor(raw decimal.Decimal) decimal.Decimal {
	return RoundToWholeUnit(raw).Sub(raw)
}

// RatioPercent returns part * 100 / whole, or zero when whole is zero.
// A zero-amount order carries a zero discount rate, not an error.
func RatioPercent(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(decimal.NewFromInt(100)).Div(whole)
}

// PercentOf returns amount * rate / 100.
func PercentOf(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100))
}

// DivideByFactor divides by a unit conversion factor. A zero factor is an
// input error, not a silent zero.
func DivideByFactor(d decimal.Decimal, factor decimal.Decimal) (decimal.Decimal, error) {
	if factor.IsZero() {
		return decimal.Zero, ErrInvalidConversionFactor
	}
	return d.Div(factor), nil
}
