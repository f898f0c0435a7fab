// Package session implements the per-user conversion dialogue:
// pick a source currency, enter an amount, pick a target currency.
//
// Sessions live in a sharded store keyed by user ID. Concurrent interactions of the
// same user act on the same entry and the last write wins; different users never
// contend on a lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/kv"
)

var (
	// ErrInvalidAmount marks unparseable or too precise input. The session is kept.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOutOfRange marks an amount outside the accepted range. The session is cleared.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrSameCurrency is returned when the target equals the source. The session is kept.
	ErrSameCurrency = errors.New("target currency equals source currency")
	// ErrRatesUnavailable is returned when either leg has no rate. The session is already cleared.
	ErrRatesUnavailable = errors.New("rates unavailable")
	// ErrNoSession is returned when the user has not picked a source currency.
	ErrNoSession = errors.New("no active session")
	// ErrNotAwaitingTarget is returned when a target is picked before an amount was accepted.
	ErrNotAwaitingTarget = errors.New("amount not entered yet")
	// ErrUnsupportedCurrency is returned for codes outside the allow-list.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

var (
	minAmount = decimal.New(1, -2)
	maxAmount = decimal.New(1, 9)
)

// MaxFractionDigits is the precision accepted for amounts.
const MaxFractionDigits = 2

// State is the position of a user in the dialogue.
type State int

const (
	Empty State = iota
	AwaitingAmount
	AwaitingTarget
)

func (s State) String() string {
	switch s {
	case AwaitingAmount:
		return "awaiting_amount"
	case AwaitingTarget:
		return "awaiting_target"
	default:
		return "empty"
	}
}

// Session is the stored progress of one user. Amount is only valid once Source is set.
type Session struct {
	Source    currency.Code
	Amount    decimal.NullDecimal
	UpdatedAt time.Time
}

// State derives the dialogue position from the populated fields.
func (s Session) State() State {
	switch {
	case s.Source == "":
		return Empty
	case !s.Amount.Valid:
		return AwaitingAmount
	default:
		return AwaitingTarget
	}
}

// RateProvider supplies the current rate table.
type RateProvider interface {
	Rates(ctx context.Context, force bool) (currency.Table, error)
}

// Conversion is the result of a consumed session.
type Conversion struct {
	Source  currency.Code
	Target  currency.Code
	Amount  decimal.Decimal
	Result  decimal.Decimal
	Display string
}

// Machine drives sessions for all users.
type Machine struct {
	allowed  currency.Set
	rates    RateProvider
	sessions *kv.Map[int64, Session]
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMachine constructs a state machine over the allow-list.
func NewMachine(allowed currency.Set, rates RateProvider, logger zerolog.Logger) *Machine {
	return &Machine{
		allowed:  allowed,
		rates:    rates,
		sessions: kv.New[int64, Session](),
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
}

// State reports where the user is in the dialogue.
func (m *Machine) State(user int64) State {
	s, _ := m.sessions.Get(user)
	return s.State()
}

// Get returns a copy of the user's session.
func (m *Machine) Get(user int64) (Session, bool) {
	return m.sessions.Get(user)
}

// PickSource starts or restarts the user's session with code as the source currency.
func (m *Machine) PickSource(user int64, code currency.Code) error {
	if !m.allowed.Contains(code) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	m.sessions.Set(user, Session{Source: code, UpdatedAt: m.now()})
	return nil
}

// EnterAmount validates text and stores it as the amount. Format and precision errors keep
// the session for a retry; range errors clear it.
func (m *Machine) EnterAmount(user int64, text string) (decimal.Decimal, error) {
	amount, perr := ParseAmount(text)

	var (
		result decimal.Decimal
		err    error
	)
	m.sessions.Update(user, func(cur Session, ok bool) (Session, bool) {
		if !ok || cur.State() != AwaitingAmount {
			err = ErrNoSession
			return cur, ok
		}
		switch {
		case errors.Is(perr, ErrAmountOutOfRange):
			err = perr
			return cur, false
		case perr != nil:
			err = perr
			return cur, true
		}
		cur.Amount = decimal.NewNullDecimal(amount)
		cur.UpdatedAt = m.now()
		result = amount
		return cur, true
	})
	return result, err
}

// PickTarget consumes the session: the entry is removed before rates are fetched so a
// failed fetch leaves the user at Empty.
func (m *Machine) PickTarget(ctx context.Context, user int64, target currency.Code) (Conversion, error) {
	if !m.allowed.Contains(target) {
		return Conversion{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, target)
	}

	var (
		taken Session
		err   error
	)
	m.sessions.Update(user, func(cur Session, ok bool) (Session, bool) {
		switch {
		case !ok:
			err = ErrNoSession
			return cur, false
		case cur.State() != AwaitingTarget:
			err = ErrNotAwaitingTarget
			return cur, true
		case cur.Source == target:
			err = ErrSameCurrency
			return cur, true
		}
		taken = cur
		return cur, false
	})
	if err != nil {
		return Conversion{}, err
	}

	table, ferr := m.rates.Rates(ctx, false)
	if ferr != nil {
		m.logger.Warn().Err(ferr).Int64("user_id", user).Msg("conversion aborted")
		return Conversion{}, fmt.Errorf("%w: %v", ErrRatesUnavailable, ferr)
	}
	from, okFrom := table.Rate(taken.Source)
	to, okTo := table.Rate(target)
	if !okFrom || !okTo || to.IsZero() {
		return Conversion{}, fmt.Errorf("%w: %s/%s", ErrRatesUnavailable, taken.Source, target)
	}

	amount := taken.Amount.Decimal
	result := currency.Convert(amount, from, to)
	return Conversion{
		Source:  taken.Source,
		Target:  target,
		Amount:  amount,
		Result:  result,
		Display: currency.FormatAmount(result),
	}, nil
}

// Cancel removes the user's session and reports whether one existed.
func (m *Machine) Cancel(user int64) bool {
	return m.sessions.Delete(user)
}

// Expire drops sessions untouched for longer than idle and returns how many were removed.
func (m *Machine) Expire(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-idle)
	return m.sessions.DeleteFunc(func(_ int64, s Session) bool {
		return s.UpdatedAt.Before(cutoff)
	})
}

// Len returns the number of live sessions.
func (m *Machine) Len() int {
	return m.sessions.Len()
}

// ParseAmount applies the amount rules: parse, then range, then precision.
func ParseAmount(text string) (decimal.Decimal, error) {
	amount, err := currency.ParseDecimal(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if amount.LessThan(minAmount) || amount.GreaterThan(maxAmount) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrAmountOutOfRange, amount)
	}
	if !amount.Equal(amount.Truncate(MaxFractionDigits)) {
		return decimal.Decimal{}, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidAmount, MaxFractionDigits)
	}
	return amount, nil
}
