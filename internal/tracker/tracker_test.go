package tracker

import (
	"path/filepath"
	"testing"
	"time"

	"lifetrackd/internal/event"
	"lifetrackd/internal/store"
)

const testUser = "principal-a"

func newTestTracker(t *testing.T) (*Tracker, *store.Store, *int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lifetrack.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	nowMs := int64(1_000_000)
	tr := New(s, testUser, nil)
	tr.SetClock(func() time.Time { return time.UnixMilli(nowMs) })
	return tr, s, &nowMs
}

func eventTypes(s *store.Store) []string {
	var types []string
	for _, ev := range s.Events(testUser) {
		types = append(types, ev.EventType)
	}
	return types
}

func TestStartOpensSessionOnce(t *testing.T) {
	tr, s, _ := newTestTracker(t)

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}

	sess := s.Session(testUser)
	if sess == nil || sess.StartTime != 1_000_000 {
		t.Fatalf("session = %+v", sess)
	}

	events := s.Events(testUser)
	if len(events) != 1 || events[0].EventType != "session_start" {
		t.Fatalf("events = %v", eventTypes(s))
	}
	if len(events[0].Tags) != 1 || events[0].Tags[0] != "session" {
		t.Errorf("tags = %v", events[0].Tags)
	}

	// A second start with a live session emits nothing.
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if got := s.Events(testUser); len(got) != 1 {
		t.Errorf("restart forked session: %v", eventTypes(s))
	}
}

func TestStopComputesDurationAndClears(t *testing.T) {
	tr, s, nowMs := newTestTracker(t)

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	*nowMs += 1800 * 1000
	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}

	events := s.Events(testUser)
	if len(events) != 2 || events[1].EventType != "session_end" {
		t.Fatalf("events = %v", eventTypes(s))
	}
	if events[1].Duration == nil || *events[1].Duration != 1800 {
		t.Errorf("duration = %v", events[1].Duration)
	}
	if s.Session(testUser) != nil {
		t.Error("session not cleared")
	}

	// Stop without a session is a no-op.
	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := s.Events(testUser); len(got) != 2 {
		t.Errorf("extra events after idle stop: %v", eventTypes(s))
	}
}

func TestNavigateEmitsLeaveEnterPair(t *testing.T) {
	tr, s, nowMs := newTestTracker(t)

	if err := tr.Navigate("/dashboard"); err != nil {
		t.Fatal(err)
	}
	*nowMs += 90 * 1000
	if err := tr.Navigate("/insights"); err != nil {
		t.Fatal(err)
	}

	events := s.Events(testUser)
	want := []string{"page_enter", "page_leave", "page_enter"}
	got := eventTypes(s)
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	leave := events[1]
	if leave.Duration == nil || *leave.Duration != 90 {
		t.Errorf("page_leave duration = %v", leave.Duration)
	}
	if len(leave.Tags) != 2 || leave.Tags[1] != "/dashboard" {
		t.Errorf("page_leave tags = %v", leave.Tags)
	}
	if enter := events[2]; len(enter.Tags) != 2 || enter.Tags[1] != "/insights" {
		t.Errorf("page_enter tags = %v", enter.Tags)
	}
}

func TestNavigateSamePathIsNoOp(t *testing.T) {
	tr, s, _ := newTestTracker(t)

	if err := tr.Navigate("/dashboard"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Navigate("/dashboard"); err != nil {
		t.Fatal(err)
	}

	if got := eventTypes(s); len(got) != 1 {
		t.Errorf("events = %v", got)
	}
}

func TestContextReadAtEmissionTime(t *testing.T) {
	tr, s, _ := newTestTracker(t)

	if err := tr.SetContext(event.ContextStudy); err != nil {
		t.Fatal(err)
	}
	if err := tr.Navigate("/read"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetContext(event.ContextEntertainment); err != nil {
		t.Fatal(err)
	}
	if err := tr.Navigate("/games"); err != nil {
		t.Fatal(err)
	}

	events := s.Events(testUser)
	if events[0].Context != event.ContextStudy {
		t.Errorf("first enter context = %s", events[0].Context)
	}
	// The leave for /read carries the tag current at leave time.
	if events[1].Context != event.ContextEntertainment {
		t.Errorf("leave context = %s", events[1].Context)
	}
	if events[2].Context != event.ContextEntertainment {
		t.Errorf("second enter context = %s", events[2].Context)
	}
}

func TestInteractionAppendsDetailedEvent(t *testing.T) {
	tr, s, _ := newTestTracker(t)

	if err := tr.Interaction("save-preferences", `{"screen":"settings"}`); err != nil {
		t.Fatal(err)
	}

	events := s.Events(testUser)
	if len(events) != 1 || events[0].EventType != "button_click" {
		t.Fatalf("events = %v", eventTypes(s))
	}
	ev := events[0]
	if !ev.IsDetailed() || ev.InteractionType != "save-preferences" {
		t.Errorf("detail fields = %+v", ev)
	}
	if ev.AdditionalData != `{"screen":"settings"}` {
		t.Errorf("additional data = %q", ev.AdditionalData)
	}
}
