package subscription

import (
	"sort"
	"time"

	"currency-exchange-bot/internal/kv"
)

// Set holds the users receiving the daily broadcast. Add and Remove are idempotent.
type Set struct {
	members *kv.Map[int64, time.Time]
	now     func() time.Time
}

// NewSet returns an empty subscriber set.
func NewSet() *Set {
	return &Set{members: kv.New[int64, time.Time](), now: time.Now}
}

// Add subscribes user and reports whether it was newly added.
func (s *Set) Add(user int64) bool {
	added := false
	s.members.Update(user, func(since time.Time, ok bool) (time.Time, bool) {
		if ok {
			return since, true
		}
		added = true
		return s.now(), true
	})
	return added
}

// Remove unsubscribes user and reports whether it was a member.
func (s *Set) Remove(user int64) bool {
	return s.members.Delete(user)
}

// Contains reports membership.
func (s *Set) Contains(user int64) bool {
	_, ok := s.members.Get(user)
	return ok
}

// Members returns the subscribers sorted by ID.
func (s *Set) Members() []int64 {
	ids := s.members.Keys()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of subscribers.
func (s *Set) Len() int {
	return s.members.Len()
}
