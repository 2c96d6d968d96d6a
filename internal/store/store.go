// Package store provides the durable local event log and keyed state
// records for lifetrackd, backed by SQLite.
//
// Model:
//  1. Append-only per-user event log with sync-state flags
//  2. Small keyed records (active session, context tag, preferences)
//  3. One process-wide keystore row holding exported vault key material
//
// Every operation takes the owning user key explicitly; there is no
// ambient identity. Reads degrade to safe defaults on persistence
// failures; writes report errors to the caller and are never retried
// here. Values marked sensitive pass through the configured cipher when
// the user's encryption preference is on, and each row carries its own
// encryption-state tag so mixed states stay readable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"lifetrackd/internal/logging"
)

// Schema for the lifetrackd local store.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_key      TEXT NOT NULL,
    event_id      TEXT NOT NULL,
    synced        INTEGER NOT NULL DEFAULT 0,
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_attempt  INTEGER NOT NULL DEFAULT 0,
    dead          INTEGER NOT NULL DEFAULT 0,
    encrypted     INTEGER NOT NULL DEFAULT 0,
    payload       TEXT NOT NULL,
    UNIQUE (user_key, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_key, seq);
CREATE INDEX IF NOT EXISTS idx_events_unsynced ON events(user_key, synced, dead);

CREATE TABLE IF NOT EXISTS records (
    user_key   TEXT NOT NULL,
    name       TEXT NOT NULL,
    encrypted  INTEGER NOT NULL DEFAULT 0,
    value      TEXT NOT NULL,
    PRIMARY KEY (user_key, name)
);

CREATE TABLE IF NOT EXISTS keystore (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    material  TEXT NOT NULL
);
`

// Record names for keyed state. The names mirror the storage layout the
// rest of the system expects.
const (
	RecordSession           = "current_session"
	RecordSessionContext    = "session_context"
	RecordRecPrefs          = "rec_prefs"
	RecordNotificationPrefs = "notification_prefs"
	RecordFocusBlocklist    = "focus_blocklist"
	RecordFocusSession      = "focus_session"
	RecordEncryptionEnabled = "encryption_enabled"
)

// Cipher transforms serialized values at the storage boundary. The store
// applies it to sensitive values immediately before writes and immediately
// after reads when the user's encryption preference is on.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Store is the SQLite-backed local store.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	cipher   Cipher
	log      *logging.Logger
	notifier *Notifier
}

// Open opens or creates the store database at the given path.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return &Store{
		db:       db,
		log:      log.WithComponent("store"),
		notifier: NewNotifier(),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetCipher installs the at-rest cipher. Must be called before any
// sensitive value is written with encryption enabled; the vault needs the
// store's keystore first, which is why this is not an Open argument.
func (s *Store) SetCipher(c Cipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = c
}

// Subscribe registers a callback for mutation notifications. With no
// topics the callback fires for every mutation. The returned function
// cancels the subscription.
func (s *Store) Subscribe(fn func(Topic), topics ...Topic) func() {
	return s.notifier.Subscribe(fn, topics...)
}

// LoadKey implements vault.KeyStore over the keystore table. It takes no
// store lock: the cipher calls it from inside locked write paths, and a
// single statement is atomic on its own.
func (s *Store) LoadKey() (string, error) {
	var material string
	err := s.db.QueryRow(`SELECT material FROM keystore WHERE id = 1`).Scan(&material)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load key material: %w", err)
	}
	return material, nil
}

// StoreKey implements vault.KeyStore over the keystore table. Lock-free
// for the same reason as LoadKey.
func (s *Store) StoreKey(material string) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO keystore (id, material) VALUES (1, ?)`, material); err != nil {
		return fmt.Errorf("store key material: %w", err)
	}
	return nil
}

// encryptionOn reports the user's encryption preference. Must be called
// with the store lock held.
func (s *Store) encryptionOn(user string) bool {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM records WHERE user_key = ? AND name = ?`,
		user, RecordEncryptionEnabled,
	).Scan(&value)
	if err != nil {
		return false
	}
	return value == "true"
}

// seal applies the cipher to a sensitive value when encryption is on for
// the user. Must be called with the store lock held.
func (s *Store) seal(user, value string, sensitive bool) (string, bool, error) {
	if !sensitive || s.cipher == nil || !s.encryptionOn(user) {
		return value, false, nil
	}
	sealed, err := s.cipher.Encrypt(value)
	if err != nil {
		return "", false, fmt.Errorf("seal value: %w", err)
	}
	return sealed, true, nil
}

// open reverses seal according to the row's own encryption tag.
func (s *Store) open(value string, encrypted bool) (string, error) {
	if !encrypted {
		return value, nil
	}
	if s.cipher == nil {
		return "", errors.New("encrypted row but no cipher configured")
	}
	return s.cipher.Decrypt(value)
}
