package store

import "testing"

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.Session("chat1"); err != nil || ok {
		t.Fatalf("missing session: got ok=%v err=%v, want false nil", ok, err)
	}

	if err := s.SetSession("chat1", "sess-a"); err != nil {
		t.Fatalf("SetSession error: %v", err)
	}
	id, ok, err := s.Session("chat1")
	if err != nil || !ok || id != "sess-a" {
		t.Fatalf("Session = (%q, %v, %v), want (sess-a, true, nil)", id, ok, err)
	}

	// One session per chat: a new handle replaces the old one.
	if err := s.SetSession("chat1", "sess-b"); err != nil {
		t.Fatalf("SetSession error: %v", err)
	}
	id, _, _ = s.Session("chat1")
	if id != "sess-b" {
		t.Errorf("after replace Session = %q, want sess-b", id)
	}

	if err := s.ClearSession("chat1"); err != nil {
		t.Fatalf("ClearSession error: %v", err)
	}
	if _, ok, _ := s.Session("chat1"); ok {
		t.Error("session should be gone after clear")
	}

	// Clearing an absent session is not an error.
	if err := s.ClearSession("chat-never"); err != nil {
		t.Errorf("ClearSession on missing chat: %v", err)
	}
}
