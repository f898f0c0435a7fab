package currency

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Code is an ISO 4217 currency code such as USD.
type Code string

// Known codes.
const (
	USD Code = "USD"
	EUR Code = "EUR"
	JPY Code = "JPY"
	TRY Code = "TRY"
	RUB Code = "RUB"
	AED Code = "AED"
)

// DefaultAllowed is the allow-list used when none is configured.
var DefaultAllowed = []Code{USD, EUR, JPY, TRY, RUB}

// Set is an ordered allow-list of currency codes.
type Set struct {
	codes []Code
	index map[Code]struct{}
}

// NewSet builds an allow-list from raw codes, preserving order and dropping duplicates.
func NewSet(raw []string) (Set, error) {
	set := Set{index: make(map[Code]struct{}, len(raw))}
	for _, r := range raw {
		code := Code(strings.ToUpper(strings.TrimSpace(r)))
		if len(code) != 3 {
			return Set{}, fmt.Errorf("invalid currency code %q", r)
		}
		if _, dup := set.index[code]; dup {
			continue
		}
		set.index[code] = struct{}{}
		set.codes = append(set.codes, code)
	}
	if len(set.codes) == 0 {
		return Set{}, fmt.Errorf("currency allow-list is empty")
	}
	return set, nil
}

// MustSet is NewSet for static lists.
func MustSet(codes ...Code) Set {
	raw := make([]string, len(codes))
	for i, c := range codes {
		raw[i] = string(c)
	}
	set, err := NewSet(raw)
	if err != nil {
		panic(err)
	}
	return set
}

// Parse resolves user text to an allowed code, case-insensitively.
func (s Set) Parse(text string) (Code, bool) {
	code := Code(strings.ToUpper(strings.TrimSpace(text)))
	_, ok := s.index[code]
	return code, ok
}

// Contains reports whether code is allowed.
func (s Set) Contains(code Code) bool {
	_, ok := s.index[code]
	return ok
}

// Codes returns the allow-list in configured order.
func (s Set) Codes() []Code {
	out := make([]Code, len(s.codes))
	copy(out, s.codes)
	return out
}

// String lists the allowed codes, e.g. "USD, EUR, RUB".
func (s Set) String() string {
	parts := make([]string, len(s.codes))
	for i, c := range s.codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// Table maps a currency to its value in the base currency. A missing entry means
// the source did not report that currency.
type Table map[Code]decimal.Decimal

// Rate returns the multiplier for code.
func (t Table) Rate(code Code) (decimal.Decimal, bool) {
	r, ok := t[code]
	return r, ok
}

// Clone returns an independent copy.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Codes returns the reported codes sorted alphabetically.
func (t Table) Codes() []Code {
	codes := make([]Code, 0, len(t))
	for c := range t {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
