package store

import (
	"path/filepath"
	"testing"

	"lifetrackd/internal/event"
	"lifetrackd/internal/vault"
)

const testUser = "principal-a"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lifetrack.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(id string, ts int64) event.DetailedEvent {
	return event.DetailedEvent{
		Event: event.Event{
			ID:        id,
			Timestamp: ts,
			EventType: "page_enter",
			Context:   event.ContextWork,
			Tags:      []string{"navigation", "/dashboard"},
			Source:    event.SourceApp,
		},
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "lifetrack.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestAppendAndListOrder(t *testing.T) {
	s := openTestStore(t)

	ids := []string{"e1", "e2", "e3"}
	for i, id := range ids {
		if err := s.AppendEvent(testUser, testEvent(id, int64(i))); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events := s.Events(testUser)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, ev.ID, ids[i])
		}
		if ev.Synced {
			t.Errorf("event %s born synced", ev.ID)
		}
	}
}

func TestAppendDuplicateIDIsNoOp(t *testing.T) {
	s := openTestStore(t)

	first := testEvent("dup", 1)
	if err := s.AppendEvent(testUser, first); err != nil {
		t.Fatal(err)
	}

	second := testEvent("dup", 2)
	second.EventType = "button_click"
	if err := s.AppendEvent(testUser, second); err != nil {
		t.Fatalf("duplicate append should not error: %v", err)
	}

	events := s.Events(testUser)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != "page_enter" {
		t.Error("duplicate append overwrote existing event")
	}
}

func TestUnsyncedIsSubsequence(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := s.AppendEvent(testUser, testEvent(id, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkSynced(testUser, []string{"b", "d"}); err != nil {
		t.Fatal(err)
	}

	pending := s.UnsyncedEvents(testUser)
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].Event.ID != "a" || pending[1].Event.ID != "c" {
		t.Errorf("pending order wrong: %s, %s", pending[0].Event.ID, pending[1].Event.ID)
	}

	events := s.Events(testUser)
	for _, ev := range events {
		wantSynced := ev.ID == "b" || ev.ID == "d"
		if ev.Synced != wantSynced {
			t.Errorf("event %s synced = %v", ev.ID, ev.Synced)
		}
	}
}

func TestMarkSyncedIdempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendEvent(testUser, testEvent("x", 1)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := s.MarkSynced(testUser, []string{"x", "missing"}); err != nil {
			t.Fatalf("MarkSynced pass %d failed: %v", i, err)
		}
	}

	events := s.Events(testUser)
	if len(events) != 1 || !events[0].Synced {
		t.Errorf("unexpected state after double mark: %+v", events)
	}
	if got := s.UnsyncedEvents(testUser); len(got) != 0 {
		t.Errorf("unsynced after mark: %d", len(got))
	}
}

func TestRecordFailureDeadLetters(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendEvent(testUser, testEvent("flaky", 1)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if len(s.UnsyncedEvents(testUser)) != 1 {
			t.Fatalf("attempt %d: event left the queue early", i)
		}
		if err := s.RecordFailure(testUser, []string{"flaky"}, int64(1000+i), 3); err != nil {
			t.Fatal(err)
		}
	}

	if got := s.UnsyncedEvents(testUser); len(got) != 0 {
		t.Errorf("dead-lettered event still pending: %d", len(got))
	}
	if n := s.DeadLetterCount(testUser); n != 1 {
		t.Errorf("dead letter count = %d, want 1", n)
	}
	// Still present in the full log.
	if events := s.Events(testUser); len(events) != 1 {
		t.Errorf("dead-lettered event vanished from log")
	}
}

func TestRecordFailureTracksAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendEvent(testUser, testEvent("r", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(testUser, []string{"r"}, 5000, 0); err != nil {
		t.Fatal(err)
	}

	pending := s.UnsyncedEvents(testUser)
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastAttempt != 5000 {
		t.Errorf("bookkeeping = %d attempts, last %d", pending[0].Attempts, pending[0].LastAttempt)
	}
}

func TestClearUserIsScoped(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendEvent("alice", testEvent("a1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent("bob", testEvent("b1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContextTag("alice", event.ContextStudy); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContextTag("bob", event.ContextIdle); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearUser("alice"); err != nil {
		t.Fatalf("ClearUser failed: %v", err)
	}

	if got := s.Events("alice"); len(got) != 0 {
		t.Errorf("alice still has %d events", len(got))
	}
	if got := s.Events("bob"); len(got) != 1 {
		t.Errorf("bob lost events: %d", len(got))
	}
	if got := s.ContextTag("alice"); got != event.ContextWork {
		t.Errorf("alice context = %s, want default Work", got)
	}
	if got := s.ContextTag("bob"); got != event.ContextIdle {
		t.Errorf("bob context = %s", got)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if got := s.Session(testUser); got != nil {
		t.Errorf("expected no session, got %+v", got)
	}

	sess := &event.Session{ID: "sess-1", StartTime: 1700000000000}
	if err := s.SetSession(testUser, sess); err != nil {
		t.Fatal(err)
	}

	got := s.Session(testUser)
	if got == nil || got.ID != sess.ID || got.StartTime != sess.StartTime {
		t.Errorf("session round trip: %+v", got)
	}

	if err := s.SetSession(testUser, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Session(testUser); got != nil {
		t.Errorf("session not cleared: %+v", got)
	}
}

func TestContextTagDefault(t *testing.T) {
	s := openTestStore(t)
	if got := s.ContextTag(testUser); got != event.ContextWork {
		t.Errorf("default context = %s, want Work", got)
	}
}

func TestNotifierPublishesOnMutation(t *testing.T) {
	s := openTestStore(t)

	var got []Topic
	cancel := s.Subscribe(func(topic Topic) { got = append(got, topic) }, TopicEvents, TopicContext)
	defer cancel()

	if err := s.AppendEvent(testUser, testEvent("n1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContextTag(testUser, event.ContextStudy); err != nil {
		t.Fatal(err)
	}
	// Not subscribed to session changes.
	if err := s.SetSession(testUser, &event.Session{ID: "s", StartTime: 1}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0] != TopicEvents || got[1] != TopicContext {
		t.Errorf("notifications = %v", got)
	}
}

func TestEncryptionMigrationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	s.SetCipher(vault.New(s))

	if err := s.AppendEvent(testUser, testEvent("plain", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRecord(testUser, RecordRecPrefs, `{"quietHoursStart":22}`, true); err != nil {
		t.Fatal(err)
	}

	if err := s.SetEncryptionEnabled(testUser, true); err != nil {
		t.Fatalf("enable encryption: %v", err)
	}
	if !s.EncryptionEnabled(testUser) {
		t.Fatal("preference not persisted")
	}

	// Reads still work through the cipher.
	if events := s.Events(testUser); len(events) != 1 || events[0].ID != "plain" {
		t.Fatalf("events unreadable after migration: %+v", events)
	}
	if value, ok := s.Record(testUser, RecordRecPrefs); !ok || value != `{"quietHoursStart":22}` {
		t.Fatalf("record unreadable after migration: %q %v", value, ok)
	}

	// New appends are encrypted too, and survive the toggle back.
	if err := s.AppendEvent(testUser, testEvent("sealed", 2)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEncryptionEnabled(testUser, false); err != nil {
		t.Fatalf("disable encryption: %v", err)
	}
	events := s.Events(testUser)
	if len(events) != 2 {
		t.Fatalf("got %d events after disable, want 2", len(events))
	}
}

func TestEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	s.SetCipher(vault.New(s))

	if err := s.SetEncryptionEnabled(testUser, true); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(testUser, testEvent("secret", 1)); err != nil {
		t.Fatal(err)
	}

	// The raw payload column must not contain recognizable JSON.
	var payload string
	var encrypted int
	err := s.db.QueryRow(
		`SELECT payload, encrypted FROM events WHERE user_key = ? AND event_id = ?`,
		testUser, "secret",
	).Scan(&payload, &encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if encrypted != 1 {
		t.Error("row not tagged encrypted")
	}
	if payload == "" || payload[0] == '{' {
		t.Errorf("payload looks like plaintext: %q", payload)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if material, err := s.LoadKey(); err != nil || material != "" {
		t.Fatalf("fresh keystore = %q, %v", material, err)
	}
	if err := s.StoreKey(`{"alg":"A256GCM","k":"abc"}`); err != nil {
		t.Fatal(err)
	}
	if material, err := s.LoadKey(); err != nil || material != `{"alg":"A256GCM","k":"abc"}` {
		t.Fatalf("keystore round trip = %q, %v", material, err)
	}
}
