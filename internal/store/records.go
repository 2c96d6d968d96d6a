package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"lifetrackd/internal/event"
)

// Record returns a keyed state record for the user. The second return is
// false when the record is absent or unreadable; callers fall back to their
// defaults either way.
func (s *Store) Record(user, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(user, name)
}

func (s *Store) recordLocked(user, name string) (string, bool) {
	var value string
	var encrypted int
	err := s.db.QueryRow(
		`SELECT value, encrypted FROM records WHERE user_key = ? AND name = ?`,
		user, name,
	).Scan(&value, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.log.Warn("record read failed, using default", "record", name, "error", err)
		return "", false
	}

	plain, err := s.open(value, encrypted == 1)
	if err != nil {
		s.log.Warn("record unreadable, using default", "record", name, "error", err)
		return "", false
	}
	return plain, true
}

// SetRecord writes a keyed state record. Sensitive values pass through the
// cipher when the user's encryption preference is on.
func (s *Store) SetRecord(user, name, value string, sensitive bool) error {
	s.mu.Lock()
	err := s.setRecordLocked(user, name, value, sensitive)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Publish(TopicPrefs)
	return nil
}

func (s *Store) setRecordLocked(user, name, value string, sensitive bool) error {
	sealed, encrypted, err := s.seal(user, value, sensitive)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO records (user_key, name, encrypted, value)
		VALUES (?, ?, ?, ?)`,
		user, name, boolToInt(encrypted), sealed,
	)
	if err != nil {
		return fmt.Errorf("set record %s: %w", name, err)
	}
	return nil
}

func (s *Store) deleteRecord(user, name string) error {
	s.mu.Lock()
	_, err := s.db.Exec(`DELETE FROM records WHERE user_key = ? AND name = ?`, user, name)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", name, err)
	}
	return nil
}

// Session returns the user's active session, or nil when none is stored or
// the record is unreadable.
func (s *Store) Session(user string) *event.Session {
	value, ok := s.Record(user, RecordSession)
	if !ok {
		return nil
	}

	var sess event.Session
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		s.log.Warn("session record unparseable, treating as none", "error", err)
		return nil
	}
	return &sess
}

// SetSession stores the active session; nil clears it.
func (s *Store) SetSession(user string, sess *event.Session) error {
	if sess == nil {
		if err := s.deleteRecord(user, RecordSession); err != nil {
			return err
		}
		s.notifier.Publish(TopicSession)
		return nil
	}

	value, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	s.mu.Lock()
	err = s.setRecordLocked(user, RecordSession, string(value), false)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Publish(TopicSession)
	return nil
}

// ContextTag returns the user's session-context tag, defaulting to Work.
func (s *Store) ContextTag(user string) event.ContextTag {
	value, ok := s.Record(user, RecordSessionContext)
	if !ok || value == "" {
		return event.ContextWork
	}
	return event.ContextTag(value)
}

// SetContextTag stores the user's session-context tag.
func (s *Store) SetContextTag(user string, tag event.ContextTag) error {
	s.mu.Lock()
	err := s.setRecordLocked(user, RecordSessionContext, string(tag), false)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Publish(TopicContext)
	return nil
}

// EncryptionEnabled reports the user's at-rest encryption preference.
func (s *Store) EncryptionEnabled(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encryptionOn(user)
}

// SetEncryptionEnabled flips the user's encryption preference and migrates
// every stored row of that user to the new state in one transaction, so
// the store never settles into a mix of plaintext and ciphertext rows.
func (s *Store) SetEncryptionEnabled(user string, enabled bool) error {
	s.mu.Lock()
	err := s.setEncryptionLocked(user, enabled)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Publish(TopicPrefs)
	s.notifier.Publish(TopicEvents)
	return nil
}

func (s *Store) setEncryptionLocked(user string, enabled bool) error {
	if s.cipher == nil {
		return errors.New("encryption toggled without a cipher configured")
	}

	// Prime the cipher so lazy key creation happens before the migration
	// transaction takes the writer lock.
	if _, err := s.cipher.Encrypt(""); err != nil {
		return fmt.Errorf("prepare cipher: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.migrateEvents(tx, user, enabled); err != nil {
		return err
	}
	if err := s.migrateRecords(tx, user, enabled); err != nil {
		return err
	}

	flag := "false"
	if enabled {
		flag = "true"
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO records (user_key, name, encrypted, value)
		VALUES (?, ?, 0, ?)`,
		user, RecordEncryptionEnabled, flag,
	); err != nil {
		return fmt.Errorf("set encryption flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrateEvents(tx *sql.Tx, user string, enabled bool) error {
	rows, err := tx.Query(
		`SELECT seq, encrypted, payload FROM events WHERE user_key = ? AND encrypted != ?`,
		user, boolToInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("scan events for migration: %w", err)
	}

	type pending struct {
		seq   int64
		value string
	}
	var updates []pending
	for rows.Next() {
		var seq int64
		var encrypted int
		var payload string
		if err := rows.Scan(&seq, &encrypted, &payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan event row: %w", err)
		}
		transformed, err := s.transform(payload, encrypted == 1, enabled)
		if err != nil {
			rows.Close()
			return fmt.Errorf("migrate event %d: %w", seq, err)
		}
		updates = append(updates, pending{seq, transformed})
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close migration scan: %w", err)
	}

	for _, u := range updates {
		if _, err := tx.Exec(
			`UPDATE events SET payload = ?, encrypted = ? WHERE seq = ?`,
			u.value, boolToInt(enabled), u.seq,
		); err != nil {
			return fmt.Errorf("rewrite event %d: %w", u.seq, err)
		}
	}
	return nil
}

func (s *Store) migrateRecords(tx *sql.Tx, user string, enabled bool) error {
	rows, err := tx.Query(`
		SELECT name, encrypted, value FROM records
		WHERE user_key = ? AND encrypted != ? AND name NOT IN (?, ?, ?)`,
		user, boolToInt(enabled), RecordEncryptionEnabled, RecordSession, RecordSessionContext,
	)
	if err != nil {
		return fmt.Errorf("scan records for migration: %w", err)
	}

	type pending struct {
		name  string
		value string
	}
	var updates []pending
	for rows.Next() {
		var name, value string
		var encrypted int
		if err := rows.Scan(&name, &encrypted, &value); err != nil {
			rows.Close()
			return fmt.Errorf("scan record row: %w", err)
		}
		transformed, err := s.transform(value, encrypted == 1, enabled)
		if err != nil {
			rows.Close()
			return fmt.Errorf("migrate record %s: %w", name, err)
		}
		updates = append(updates, pending{name, transformed})
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close migration scan: %w", err)
	}

	for _, u := range updates {
		if _, err := tx.Exec(
			`UPDATE records SET value = ?, encrypted = ? WHERE user_key = ? AND name = ?`,
			u.value, boolToInt(enabled), user, u.name,
		); err != nil {
			return fmt.Errorf("rewrite record %s: %w", u.name, err)
		}
	}
	return nil
}

// transform moves a value between plaintext and ciphertext states.
func (s *Store) transform(value string, wasEncrypted, wantEncrypted bool) (string, error) {
	if wasEncrypted == wantEncrypted {
		return value, nil
	}
	if wantEncrypted {
		return s.cipher.Encrypt(value)
	}
	return s.cipher.Decrypt(value)
}
