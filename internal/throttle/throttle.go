package throttle

import (
	"errors"
	"sync"
	"time"

	"currency-exchange-bot/internal/kv"
)

var (
	// ErrThrottled is returned when the minimum interval has not elapsed yet.
	ErrThrottled = errors.New("too many requests")
	// ErrInFlight is returned when the same user already runs this command.
	ErrInFlight = errors.New("request already in progress")
)

// Guard is a per-user minimum-interval gate.
type Guard struct {
	interval time.Duration
	last     *kv.Map[int64, time.Time]
	now      func() time.Time
}

// NewGuard returns a gate accepting one interaction per interval per user.
func NewGuard(interval time.Duration) *Guard {
	return &Guard{interval: interval, last: kv.New[int64, time.Time](), now: time.Now}
}

// Allow records and accepts the interaction when the interval has elapsed since the last
// accepted one. Rejections leave the recorded timestamp untouched.
func (g *Guard) Allow(user int64) bool {
	if g.interval <= 0 {
		return true
	}
	now := g.now()
	accepted := false
	g.last.Update(user, func(last time.Time, ok bool) (time.Time, bool) {
		if ok && now.Before(last.Add(g.interval)) {
			return last, true
		}
		accepted = true
		return now, true
	})
	return accepted
}

// Prune forgets users idle for longer than idle and returns how many were dropped.
func (g *Guard) Prune(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := g.now().Add(-idle)
	return g.last.DeleteFunc(func(_ int64, last time.Time) bool {
		return last.Before(cutoff)
	})
}

// Len returns the number of tracked users.
func (g *Guard) Len() int {
	return g.last.Len()
}

type gateEntry struct {
	last     time.Time
	inFlight bool
}

// CommandGate throttles one heavyweight command per user and allows at most one
// execution in flight. A concurrent second request is rejected, never queued.
type CommandGate struct {
	interval time.Duration
	entries  *kv.Map[int64, gateEntry]
	now      func() time.Time
}

// NewCommandGate returns a gate for one command.
func NewCommandGate(interval time.Duration) *CommandGate {
	return &CommandGate{interval: interval, entries: kv.New[int64, gateEntry](), now: time.Now}
}

// Acquire admits the request and returns a release func that must be called when the
// work finishes. ErrInFlight takes precedence over ErrThrottled.
func (g *CommandGate) Acquire(user int64) (func(), error) {
	now := g.now()
	var err error
	g.entries.Update(user, func(cur gateEntry, ok bool) (gateEntry, bool) {
		switch {
		case ok && cur.inFlight:
			err = ErrInFlight
			return cur, true
		case ok && g.interval > 0 && now.Before(cur.last.Add(g.interval)):
			err = ErrThrottled
			return cur, true
		}
		return gateEntry{last: now, inFlight: true}, true
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.entries.Update(user, func(cur gateEntry, ok bool) (gateEntry, bool) {
				if !ok {
					return cur, false
				}
				cur.inFlight = false
				return cur, true
			})
		})
	}, nil
}

// Prune forgets idle users with nothing in flight.
func (g *CommandGate) Prune(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := g.now().Add(-idle)
	return g.entries.DeleteFunc(func(_ int64, e gateEntry) bool {
		return !e.inFlight && e.last.Before(cutoff)
	})
}
