package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"lifetrackd/internal/event"
)

// PendingEvent is an unsynced event with its retry bookkeeping, as the
// sync engine consumes it.
type PendingEvent struct {
	Event       event.DetailedEvent
	Attempts    int
	LastAttempt int64 // ms since epoch, 0 if never attempted
}

// AppendEvent appends an event to the user's log. Appending an id that
// already exists is a no-op; an existing row is never overwritten.
func (s *Store) AppendEvent(user string, ev event.DetailedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	value, encrypted, err := s.seal(user, string(payload), true)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO events (user_key, event_id, synced, encrypted, payload)
		VALUES (?, ?, ?, ?, ?)`,
		user, ev.ID, boolToInt(ev.Synced), boolToInt(encrypted), value,
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		s.log.Debug("duplicate event id ignored", "event_id", ev.ID)
		return nil
	}

	s.notifier.Publish(TopicEvents)
	return nil
}

// Events returns all events for the user in insertion order. On any
// persistence failure it degrades to an empty list; individual rows that
// cannot be decoded are skipped.
func (s *Store) Events(user string) []event.DetailedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT event_id, synced, encrypted, payload
		FROM events
		WHERE user_key = ?
		ORDER BY seq ASC`, user,
	)
	if err != nil {
		s.log.Warn("event scan failed, returning empty log", "error", err)
		return nil
	}
	defer rows.Close()

	var events []event.DetailedEvent
	for rows.Next() {
		ev, ok := s.scanEvent(rows)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("event iteration failed, returning empty log", "error", err)
		return nil
	}

	return events
}

// UnsyncedEvents returns the user's unsynced, non-dead-lettered events in
// insertion order, with retry bookkeeping. Degrades to empty on failure.
func (s *Store) UnsyncedEvents(user string) []PendingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT event_id, synced, encrypted, payload, attempts, last_attempt
		FROM events
		WHERE user_key = ? AND synced = 0 AND dead = 0
		ORDER BY seq ASC`, user,
	)
	if err != nil {
		s.log.Warn("unsynced scan failed, returning empty set", "error", err)
		return nil
	}
	defer rows.Close()

	var pending []PendingEvent
	for rows.Next() {
		var p PendingEvent
		var eventID, payload string
		var synced, encrypted int
		if err := rows.Scan(&eventID, &synced, &encrypted, &payload, &p.Attempts, &p.LastAttempt); err != nil {
			s.log.Warn("skipping unreadable event row", "error", err)
			continue
		}
		ev, ok := s.decodeEvent(eventID, synced, encrypted, payload)
		if !ok {
			continue
		}
		p.Event = ev
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("unsynced iteration failed, returning empty set", "error", err)
		return nil
	}

	return pending
}

// MarkSynced marks the given event ids as synced in one transaction. It is
// idempotent: already-synced ids are left as they are, and a synced event
// is never reset.
func (s *Store) MarkSynced(user string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	changed, err := s.updateSyncState(user, ids)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if changed {
		s.notifier.Publish(TopicEvents)
	}
	return nil
}

func (s *Store) updateSyncState(user string, ids []string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE events SET synced = 1 WHERE user_key = ? AND event_id = ? AND synced = 0`)
	if err != nil {
		return false, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	changed := false
	for _, id := range ids {
		result, err := stmt.Exec(user, id)
		if err != nil {
			return false, fmt.Errorf("mark synced: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			changed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return changed, nil
}

// RecordFailure notes a failed submission attempt for the given ids.
// Events that reach maxAttempts are dead-lettered and leave the sync
// queue; maxAttempts <= 0 means retry forever.
func (s *Store) RecordFailure(user string, ids []string, nowMs int64, maxAttempts int) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE events
		SET attempts = attempts + 1,
		    last_attempt = ?,
		    dead = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN 1 ELSE dead END
		WHERE user_key = ? AND event_id = ? AND synced = 0`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(nowMs, maxAttempts, maxAttempts, user, id); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeadLetterCount returns the number of dead-lettered events for the user.
func (s *Store) DeadLetterCount(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE user_key = ? AND dead = 1`, user,
	).Scan(&n); err != nil {
		return 0
	}
	return n
}

// ClearUser irreversibly removes all events and records for the user.
// Other users' rows are untouched.
func (s *Store) ClearUser(user string) error {
	s.mu.Lock()
	err := s.clearUserLocked(user)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, t := range []Topic{TopicEvents, TopicSession, TopicContext, TopicPrefs} {
		s.notifier.Publish(t)
	}
	return nil
}

func (s *Store) clearUserLocked(user string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE user_key = ?`, user); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM records WHERE user_key = ?`, user); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanEvent reads one event row. Must be called with the store lock held.
func (s *Store) scanEvent(rows *sql.Rows) (event.DetailedEvent, bool) {
	var eventID, payload string
	var synced, encrypted int
	if err := rows.Scan(&eventID, &synced, &encrypted, &payload); err != nil {
		s.log.Warn("skipping unreadable event row", "error", err)
		return event.DetailedEvent{}, false
	}
	return s.decodeEvent(eventID, synced, encrypted, payload)
}

func (s *Store) decodeEvent(eventID string, synced, encrypted int, payload string) (event.DetailedEvent, bool) {
	plain, err := s.open(payload, encrypted == 1)
	if err != nil {
		s.log.Warn("skipping undecryptable event row", "event_id", eventID, "error", err)
		return event.DetailedEvent{}, false
	}

	var ev event.DetailedEvent
	if err := json.Unmarshal([]byte(plain), &ev); err != nil {
		s.log.Warn("skipping unparseable event row", "event_id", eventID, "error", err)
		return event.DetailedEvent{}, false
	}

	// The synced column is authoritative over the serialized payload.
	ev.Synced = synced == 1
	return ev, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
