package relay

import (
	"testing"
)

func TestRegistry_MultiSessionGroup(t *testing.T) {
	r := NewRegistry()

	s1 := NewSession("s1", "user1", nil)
	s2 := NewSession("s2", "user1", nil)
	r.Add(s1)
	r.Add(s2)

	// Both sessions join the same delivery group
	sessions := r.GroupSessions("user1")
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions in user1's group, got %d", len(sessions))
	}

	r.Remove(s1)
	sessions = r.GroupSessions("user1")
	if len(sessions) != 1 || sessions[0].ID != "s2" {
		t.Errorf("Expected only s2 after removing s1, got %v", sessions)
	}

	r.Remove(s2)
	if len(r.GroupSessions("user1")) != 0 {
		t.Error("Group should be empty after removing all sessions")
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry()

	s1 := NewSession("s1", "user1", nil)
	r.Add(s1)
	r.Add(s1)

	if got := len(r.GroupSessions("user1")); got != 1 {
		t.Errorf("Re-adding the same session must not duplicate it, got %d", got)
	}
}

func TestRegistry_LateRemoveOfReplacedSession(t *testing.T) {
	r := NewRegistry()

	s1 := NewSession("s1", "user1", nil)
	r.Add(s1)

	// A different Session object claiming the same id (reconnect race)
	s1b := NewSession("s1", "user1", nil)
	r.Add(s1b)

	// Late cleanup from the stale object must not evict the live one
	r.Remove(s1)
	sessions := r.GroupSessions("user1")
	if len(sessions) != 1 || sessions[0] != s1b {
		t.Errorf("Live session should survive a stale Remove, got %v", sessions)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()

	s1 := NewSession("s1", "user1", nil)
	s2 := NewSession("s2", "user2", nil)
	r.Add(s1)
	r.Add(s2)

	r.CloseAll()

	for _, s := range []*Session{s1, s2} {
		select {
		case <-s.Done():
		default:
			t.Errorf("Session %s should be closed", s.ID)
		}
	}
}

func TestFanout_ExactlyOncePerSession(t *testing.T) {
	r := NewRegistry()
	f := NewFanout(r, nil, "test")

	a1 := NewSession("a1", "userA", nil)
	a2 := NewSession("a2", "userA", nil)
	b1 := NewSession("b1", "userB", nil)
	r.Add(a1)
	r.Add(a2)
	r.Add(b1)

	f.Broadcast(t.Context(), []string{"userB", "userA"}, []byte("payload"))

	for _, s := range []*Session{a1, a2, b1} {
		if got := len(s.SendQueue); got != 1 {
			t.Errorf("Session %s should receive exactly once, got %d", s.ID, got)
		}
	}
}

func TestFanout_DuplicateGroupsDeliverOnce(t *testing.T) {
	r := NewRegistry()
	f := NewFanout(r, nil, "test")

	a1 := NewSession("a1", "userA", nil)
	r.Add(a1)

	// Self-addressed send produces groups [self, self]
	f.Broadcast(t.Context(), []string{"userA", "userA"}, []byte("payload"))

	if got := len(a1.SendQueue); got != 1 {
		t.Errorf("Duplicated group ids must still deliver once, got %d", got)
	}
}
