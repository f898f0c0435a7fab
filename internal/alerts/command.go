package alerts

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

var (
	// ErrFormat is returned when the command arguments do not match the grammar.
	ErrFormat = errors.New("usage: /alert <CUR> [> | <] <number>")
	// ErrUnsupportedCurrency is returned for codes outside the allow-list.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Request is a parsed /alert command. Direction is zero when it must be inferred.
type Request struct {
	Currency  currency.Code
	Target    decimal.Decimal
	Direction Direction
}

// ParseCommand parses the arguments of
//
//	/alert <CUR> <number>
//	/alert <CUR> <op> <number>
//
// where op is '>' or '<' and may be attached to the number.
func ParseCommand(args string, allowed currency.Set) (Request, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return Request{}, ErrFormat
	}

	var req Request
	rawCode := fields[0]
	code, ok := allowed.Parse(rawCode)
	if !ok {
		if !looksLikeCode(rawCode) {
			return Request{}, ErrFormat
		}
		return Request{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, strings.ToUpper(rawCode))
	}
	req.Currency = code

	number := fields[1]
	if len(fields) == 3 {
		dir, ok := parseOperator(fields[1])
		if !ok {
			return Request{}, ErrFormat
		}
		req.Direction = dir
		number = fields[2]
	} else if dir, ok := parseOperator(number[:1]); ok {
		req.Direction = dir
		number = number[1:]
	}

	target, err := currency.ParseDecimal(number)
	if err != nil || !target.IsPositive() {
		return Request{}, ErrFormat
	}
	req.Target = target
	return req, nil
}

func parseOperator(s string) (Direction, bool) {
	switch s {
	case ">":
		return Up, true
	case "<":
		return Down, true
	default:
		return 0, false
	}
}

func looksLikeCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
