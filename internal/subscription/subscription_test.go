package subscription

import "testing"

func TestAddRemoveIdempotent(t *testing.T) {
	s := NewSet()
	if !s.Add(3) {
		t.Fatal("first add reports true")
	}
	if s.Add(3) {
		t.Fatal("second add reports false")
	}
	s.Add(1)
	if got := s.Members(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("members = %v", got)
	}

	if !s.Remove(3) || s.Remove(3) {
		t.Fatal("remove must be idempotent")
	}
	if s.Contains(3) || !s.Contains(1) || s.Len() != 1 {
		t.Fatal("unexpected membership after remove")
	}
}
