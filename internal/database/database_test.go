package database

import (
	"context"
	"testing"

	"github.com/chtugha/voicebridge/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLineRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	lines := NewLineRepository(db)

	line := &models.SipLine{
		Name:          "main",
		Extension:     "7001",
		Username:      "7001",
		Password:      "hunter2",
		RegistrarHost: "sip.example.com",
		RegistrarPort: 5060,
		Enabled:       true,
	}
	if err := lines.Create(ctx, line); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if line.ID == 0 {
		t.Fatal("Create did not assign an ID")
	}

	got, err := lines.GetByID(ctx, line.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil for existing line")
	}
	if got.Status != models.LineStatusDisconnected {
		t.Errorf("new line status = %q, want %q", got.Status, models.LineStatusDisconnected)
	}

	if err := lines.UpdateStatus(ctx, line.ID, models.LineStatusConnected); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err = lines.GetByID(ctx, line.ID)
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if got.Status != models.LineStatusConnected {
		t.Errorf("status = %q, want %q", got.Status, models.LineStatusConnected)
	}

	all, err := lines.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List returned %d lines, want 1", len(all))
	}

	missing, err := lines.GetByID(ctx, 9999)
	if err != nil {
		t.Fatalf("GetByID missing: %v", err)
	}
	if missing != nil {
		t.Error("GetByID returned a line for nonexistent ID")
	}
}

func TestCallerGetOrCreate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	callers := NewCallerRepository(db)

	first, err := callers.GetOrCreate(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := callers.GetOrCreate(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("GetOrCreate created duplicate callers: %d vs %d", first.ID, second.ID)
	}

	other, err := callers.GetOrCreate(ctx, "+15559876543")
	if err != nil {
		t.Fatalf("GetOrCreate other: %v", err)
	}
	if other.ID == first.ID {
		t.Error("distinct phone numbers mapped to same caller")
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	lines := NewLineRepository(db)
	line := &models.SipLine{Name: "l", Extension: "1", Username: "1", RegistrarHost: "r", RegistrarPort: 5060}
	if err := lines.Create(ctx, line); err != nil {
		t.Fatalf("Create line: %v", err)
	}

	caller, err := NewCallerRepository(db).GetOrCreate(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreate caller: %v", err)
	}

	sessions := NewSessionRepository(db)
	sess, err := sessions.Create(ctx, caller.ID, caller.Phone, line.ID)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session ID is empty")
	}

	if err := sessions.AppendTranscript(ctx, sess.ID, "hello"); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := sessions.AppendTranscript(ctx, sess.ID, "world"); err != nil {
		t.Fatalf("AppendTranscript second: %v", err)
	}

	got, err := sessions.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Transcript != "hello world" {
		t.Errorf("transcript = %q, want %q", got.Transcript, "hello world")
	}
	if got.EndedAt != nil {
		t.Error("session ended before Close")
	}

	if err := sessions.Close(ctx, sess.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err = sessions.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID after close: %v", err)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set after Close")
	}

	if err := sessions.Close(ctx, sess.ID); err == nil {
		t.Error("closing an already-closed session succeeded, want error")
	}
	if err := sessions.AppendTranscript(ctx, "nope", "x"); err == nil {
		t.Error("AppendTranscript on missing session succeeded, want error")
	}
}
