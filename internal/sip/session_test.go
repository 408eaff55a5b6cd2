package sip

import (
	"context"
	"testing"
)

func TestCallSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager()

	sess, err := m.Create("", "call-1@host", 7, "+15551234567")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("Create() with empty id did not assign one")
	}
	if got := sess.State(); got != StateRinging {
		t.Fatalf("State() = %q, want %q", got, StateRinging)
	}

	if err := sess.Answer(ctx); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got := sess.State(); got != StateActive {
		t.Errorf("State() after answer = %q, want %q", got, StateActive)
	}

	if err := sess.Confirm(ctx); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got := sess.State(); got != StateEstablished {
		t.Errorf("State() after confirm = %q, want %q", got, StateEstablished)
	}

	if err := sess.Hangup(ctx); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if got := sess.State(); got != StateEnded {
		t.Errorf("State() after hangup = %q, want %q", got, StateEnded)
	}
}

func TestCallSessionInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	sess := newCallSession("id-1", "call-2@host", 1, "7001")

	// ACK before answer is out of order.
	if err := sess.Confirm(ctx); err == nil {
		t.Error("Confirm() from ringing succeeded, want error")
	}

	if err := sess.Answer(ctx); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if err := sess.Answer(ctx); err == nil {
		t.Error("second Answer() succeeded, want error")
	}

	// Hangup is allowed from any live state but not after ended.
	if err := sess.Hangup(ctx); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if err := sess.Hangup(ctx); err == nil {
		t.Error("Hangup() after ended succeeded, want error")
	}
}

func TestSessionManagerStrictCallIDMatching(t *testing.T) {
	m := NewSessionManager()

	if _, err := m.Create("sess-a", "call-3@host", 1, "7001"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, ok := m.Lookup("call-3@host"); !ok {
		t.Error("Lookup() missed exact call-id")
	}
	// Near-miss identifiers do not match.
	for _, id := range []string{"call-3@HOST", "call-3@host ", "call-3", "call-3@host.example"} {
		if _, ok := m.Lookup(id); ok {
			t.Errorf("Lookup(%q) matched, want strict miss", id)
		}
	}

	if _, ok := m.Remove("call-3@other"); ok {
		t.Error("Remove() with wrong call-id succeeded")
	}
	if _, ok := m.Remove("call-3@host"); !ok {
		t.Error("Remove() with exact call-id failed")
	}
	if got := m.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestSessionManagerRejectsDuplicateCallID(t *testing.T) {
	m := NewSessionManager()
	if _, err := m.Create("", "call-4@host", 1, "7001"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create("", "call-4@host", 1, "7001"); err == nil {
		t.Error("duplicate Create() succeeded, want error")
	}
}
