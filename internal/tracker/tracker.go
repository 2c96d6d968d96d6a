// Package tracker turns user activity into appended events.
//
// Each responsibility produces exactly one append per occurrence: session
// start on first activity, session end with computed duration on shutdown,
// a page_leave/page_enter pair per navigation, and a button_click detailed
// event per interaction. Every emitted event carries the session-context
// tag read at emission time; a later tag change never rewrites history.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"lifetrackd/internal/event"
	"lifetrackd/internal/logging"
	"lifetrackd/internal/store"
)

// Tracker records one user's activity into the store.
type Tracker struct {
	store *store.Store
	user  string
	log   *logging.Logger
	now   func() time.Time

	mu          sync.Mutex
	currentPath string
	pageEntry   int64 // ms, valid while currentPath != ""
}

// New creates a tracker for the given user principal.
func New(s *store.Store, user string, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Default()
	}
	return &Tracker{
		store: s,
		user:  user,
		log:   log.WithComponent("tracker"),
		now:   time.Now,
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Start opens a session if none is active and emits session_start. Calling
// it with a session already stored is a no-op, so restarts do not fork
// sessions.
func (t *Tracker) Start() error {
	if t.store.Session(t.user) != nil {
		return nil
	}

	nowMs := t.now().UnixMilli()
	sess := &event.Session{ID: event.NewID(), StartTime: nowMs}
	if err := t.store.SetSession(t.user, sess); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	if err := t.append(nowMs, "session_start", nil, []string{"session"}); err != nil {
		return err
	}
	t.log.Info("session started", "session_id", sess.ID)
	return nil
}

// Stop closes the active session, emitting session_end with the elapsed
// duration and clearing the session record. No active session is a no-op.
func (t *Tracker) Stop() error {
	sess := t.store.Session(t.user)
	if sess == nil {
		return nil
	}

	nowMs := t.now().UnixMilli()
	duration := (nowMs - sess.StartTime) / 1000
	if err := t.append(nowMs, "session_end", &duration, []string{"session"}); err != nil {
		return err
	}

	if err := t.store.SetSession(t.user, nil); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	t.log.Info("session ended", "session_id", sess.ID, "duration_s", duration)
	return nil
}

// Navigate records a path change: page_leave for the previous path with
// time spent there, then page_enter for the new one. The first navigation
// has no previous path and emits only the enter event.
func (t *Tracker) Navigate(path string) error {
	nowMs := t.now().UnixMilli()

	t.mu.Lock()
	previous := t.currentPath
	entry := t.pageEntry
	t.currentPath = path
	t.pageEntry = nowMs
	t.mu.Unlock()

	if previous == path && previous != "" {
		return nil
	}

	if previous != "" {
		duration := (nowMs - entry) / 1000
		if err := t.append(nowMs, "page_leave", &duration, []string{"navigation", previous}); err != nil {
			return err
		}
	}
	return t.append(nowMs, "page_enter", nil, []string{"navigation", path})
}

// Interaction records a UI interaction as a detailed event.
func (t *Tracker) Interaction(name, detail string) error {
	nowMs := t.now().UnixMilli()
	ev := event.DetailedEvent{
		Event: event.Event{
			ID:        event.NewID(),
			Timestamp: nowMs,
			EventType: "button_click",
			Context:   t.store.ContextTag(t.user),
			Tags:      []string{"interaction", name},
			Source:    event.SourceApp,
		},
		InteractionType: name,
		AdditionalData:  detail,
	}
	if err := t.store.AppendEvent(t.user, ev); err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

// SetContext updates the session-context tag for subsequent events.
func (t *Tracker) SetContext(tag event.ContextTag) error {
	return t.store.SetContextTag(t.user, tag)
}

func (t *Tracker) append(nowMs int64, eventType string, duration *int64, tags []string) error {
	ev := event.DetailedEvent{
		Event: event.Event{
			ID:        event.NewID(),
			Timestamp: nowMs,
			EventType: eventType,
			Duration:  duration,
			Context:   t.store.ContextTag(t.user),
			Tags:      tags,
			Source:    event.SourceApp,
		},
	}
	if err := t.store.AppendEvent(t.user, ev); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
