package alerts

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/kv"
)

var (
	// ErrNotFound is returned when the index does not address an existing alert.
	ErrNotFound = errors.New("alert not found")
	// ErrRateUnavailable is returned when the direction must be inferred but no rate is known.
	ErrRateUnavailable = errors.New("current rate unavailable")
	// ErrTargetReached is returned when the target equals the current rate.
	ErrTargetReached = errors.New("target equals current rate")
)

// Direction tells which side of the target fires an alert.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Symbol renders the comparison operator used in the command grammar.
func (d Direction) Symbol() string {
	if d == Down {
		return "<"
	}
	return ">"
}

// Alert is a one-shot price trigger.
type Alert struct {
	Currency  currency.Code
	Target    decimal.Decimal
	Direction Direction
	CreatedAt time.Time
}

// Triggered reports whether rate satisfies the alert.
func (a Alert) Triggered(rate decimal.Decimal) bool {
	switch a.Direction {
	case Up:
		return rate.GreaterThan(a.Target)
	case Down:
		return rate.LessThan(a.Target)
	default:
		return false
	}
}

// Fired pairs a triggered alert with its owner and the rate that triggered it.
type Fired struct {
	UserID int64
	Alert  Alert
	Rate   decimal.Decimal
}

// Registry keeps every user's alerts in insertion order.
type Registry struct {
	items *kv.Map[int64, []Alert]
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: kv.New[int64, []Alert](), now: time.Now}
}

// Add appends an alert and returns its 1-based index.
func (r *Registry) Add(user int64, a Alert) int {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	var n int
	r.items.Update(user, func(cur []Alert, _ bool) ([]Alert, bool) {
		next := append(cur[:len(cur):len(cur)], a)
		n = len(next)
		return next, true
	})
	return n
}

// List returns a copy of the user's alerts; position i is display index i+1.
func (r *Registry) List(user int64) []Alert {
	cur, _ := r.items.Get(user)
	out := make([]Alert, len(cur))
	copy(out, cur)
	return out
}

// Delete removes the alert at the 1-based index.
func (r *Registry) Delete(user int64, index int) (Alert, error) {
	var (
		removed Alert
		err     error
	)
	r.items.Update(user, func(cur []Alert, ok bool) ([]Alert, bool) {
		if !ok || index < 1 || index > len(cur) {
			err = fmt.Errorf("%w: #%d", ErrNotFound, index)
			return cur, ok
		}
		removed = cur[index-1]
		next := make([]Alert, 0, len(cur)-1)
		next = append(next, cur[:index-1]...)
		next = append(next, cur[index:]...)
		return next, len(next) > 0
	})
	return removed, err
}

// Users returns the IDs of users owning at least one alert.
func (r *Registry) Users() []int64 {
	return r.items.Keys()
}

// Len counts alerts across all users.
func (r *Registry) Len() int {
	n := 0
	for _, user := range r.items.Keys() {
		cur, _ := r.items.Get(user)
		n += len(cur)
	}
	return n
}

// Evaluate removes and returns every alert triggered by table. Alerts whose currency has no
// rate are kept for the next cycle. Users left without alerts are removed.
func (r *Registry) Evaluate(table currency.Table) []Fired {
	var fired []Fired
	for _, user := range r.items.Keys() {
		r.items.Update(user, func(cur []Alert, ok bool) ([]Alert, bool) {
			if !ok {
				return cur, false
			}
			kept := make([]Alert, 0, len(cur))
			for _, a := range cur {
				rate, known := table.Rate(a.Currency)
				if known && a.Triggered(rate) {
					fired = append(fired, Fired{UserID: user, Alert: a, Rate: rate})
					continue
				}
				kept = append(kept, a)
			}
			return kept, len(kept) > 0
		})
	}
	return fired
}

// ResolveDirection returns explicit when set, otherwise compares target with the current rate.
func ResolveDirection(explicit Direction, target decimal.Decimal, current decimal.Decimal, known bool) (Direction, error) {
	if explicit != 0 {
		return explicit, nil
	}
	if !known {
		return 0, ErrRateUnavailable
	}
	switch target.Cmp(current) {
	case 1:
		return Up, nil
	case -1:
		return Down, nil
	default:
		return 0, ErrTargetReached
	}
}
