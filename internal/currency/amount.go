package currency

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotANumber is returned when text is not a plain decimal number.
var ErrNotANumber = errors.New("not a number")

var numberPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

var smallResult = decimal.New(1, -2)

// ParseDecimal parses a plain decimal number accepting either '.' or ',' as the separator.
func ParseDecimal(text string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if !numberPattern.MatchString(s) {
		return decimal.Decimal{}, ErrNotANumber
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrNotANumber
	}
	return d, nil
}

// LooksLikeNumber reports whether text parses with ParseDecimal.
func LooksLikeNumber(text string) bool {
	_, err := ParseDecimal(text)
	return err == nil
}

// Convert expresses amount of the currency worth fromRate in the currency worth toRate,
// both rates being multipliers into the same base currency.
func Convert(amount, fromRate, toRate decimal.Decimal) decimal.Decimal {
	return amount.Mul(fromRate).Div(toRate)
}

// FormatAmount renders a conversion result: six fractional digits for positive values
// below 0.01 so they never show as 0.00, two otherwise. Rounding is half away from zero.
func FormatAmount(d decimal.Decimal) string {
	if d.IsPositive() && d.LessThan(smallResult) {
		return d.StringFixed(6)
	}
	return d.StringFixed(2)
}
