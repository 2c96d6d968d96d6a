// Package prefs manages per-user preference bundles: recommendation
// thresholds, notification toggles, the focus blocklist, the focus session
// record, and the at-rest encryption flag.
//
// Bundles are created lazily with defaults on first read, partially
// updatable, and stored through the local store (so they clear with it and
// pass through the vault when encryption is on).
package prefs

import (
	"encoding/json"
	"fmt"

	"lifetrackd/internal/store"
)

// RecommendationPreferences configures recommendation generation and
// presentation filtering.
type RecommendationPreferences struct {
	// MaxMinutesPerDay maps a remote context kind to a daily ceiling in
	// minutes; exceeding it triggers an overuse alert.
	MaxMinutesPerDay map[string]int `json:"maxMinutesPerDay"`

	// Quiet hours: [start, end) wrapping midnight; only high-urgency
	// items surface inside the window.
	QuietHoursStart int `json:"quietHoursStart"`
	QuietHoursEnd   int `json:"quietHoursEnd"`

	// DismissedRecommendations holds dismissed titles, matched by equality.
	DismissedRecommendations []string `json:"dismissedRecommendations"`
}

// DefaultRecommendationPreferences returns the seeded defaults.
func DefaultRecommendationPreferences() RecommendationPreferences {
	return RecommendationPreferences{
		MaxMinutesPerDay: map[string]int{
			"entertainment": 120,
			"social":        60,
		},
		QuietHoursStart:          22,
		QuietHoursEnd:            8,
		DismissedRecommendations: nil,
	}
}

// RecommendationPatch is a partial update; nil fields keep current values.
type RecommendationPatch struct {
	MaxMinutesPerDay         map[string]int
	QuietHoursStart          *int
	QuietHoursEnd            *int
	DismissedRecommendations []string
}

// NotificationPreferences toggles in-app notification classes.
type NotificationPreferences struct {
	EnableRecommendations bool `json:"enableRecommendations"`
	EnableAlerts          bool `json:"enableAlerts"`
	EnableInsights        bool `json:"enableInsights"`
}

// DefaultNotificationPreferences returns all classes enabled.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		EnableRecommendations: true,
		EnableAlerts:          true,
		EnableInsights:        true,
	}
}

// NotificationPatch is a partial update; nil fields keep current values.
type NotificationPatch struct {
	EnableRecommendations *bool
	EnableAlerts          *bool
	EnableInsights        *bool
}

// FocusSession is the focus-mode state record.
type FocusSession struct {
	IsActive  bool  `json:"isActive"`
	IsPaused  bool  `json:"isPaused"`
	StartTime int64 `json:"startTime"` // ms since epoch, 0 when inactive
}

// DefaultBlocklist returns the paths gated during focus mode.
func DefaultBlocklist() []string {
	return []string{"/recommendations", "/insights"}
}

// Manager reads and writes preference bundles for explicit user keys.
type Manager struct {
	store *store.Store
}

// NewManager creates a preference manager over the store.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Recommendation returns the user's recommendation preferences, seeding
// defaults when absent or unreadable.
func (m *Manager) Recommendation(user string) RecommendationPreferences {
	p := DefaultRecommendationPreferences()
	readBundle(m.store, user, store.RecordRecPrefs, &p)
	if p.MaxMinutesPerDay == nil {
		p.MaxMinutesPerDay = DefaultRecommendationPreferences().MaxMinutesPerDay
	}
	return p
}

// UpdateRecommendation applies a partial update and persists the result.
func (m *Manager) UpdateRecommendation(user string, patch RecommendationPatch) (RecommendationPreferences, error) {
	p := m.Recommendation(user)
	if patch.MaxMinutesPerDay != nil {
		p.MaxMinutesPerDay = patch.MaxMinutesPerDay
	}
	if patch.QuietHoursStart != nil {
		p.QuietHoursStart = *patch.QuietHoursStart
	}
	if patch.QuietHoursEnd != nil {
		p.QuietHoursEnd = *patch.QuietHoursEnd
	}
	if patch.DismissedRecommendations != nil {
		p.DismissedRecommendations = patch.DismissedRecommendations
	}
	return p, writeBundle(m.store, user, store.RecordRecPrefs, p)
}

// Dismiss records a dismissed recommendation title.
func (m *Manager) Dismiss(user, title string) error {
	p := m.Recommendation(user)
	for _, t := range p.DismissedRecommendations {
		if t == title {
			return nil
		}
	}
	p.DismissedRecommendations = append(p.DismissedRecommendations, title)
	return writeBundle(m.store, user, store.RecordRecPrefs, p)
}

// Notifications returns the user's notification toggles.
func (m *Manager) Notifications(user string) NotificationPreferences {
	p := DefaultNotificationPreferences()
	readBundle(m.store, user, store.RecordNotificationPrefs, &p)
	return p
}

// UpdateNotifications applies a partial update and persists the result.
func (m *Manager) UpdateNotifications(user string, patch NotificationPatch) (NotificationPreferences, error) {
	p := m.Notifications(user)
	if patch.EnableRecommendations != nil {
		p.EnableRecommendations = *patch.EnableRecommendations
	}
	if patch.EnableAlerts != nil {
		p.EnableAlerts = *patch.EnableAlerts
	}
	if patch.EnableInsights != nil {
		p.EnableInsights = *patch.EnableInsights
	}
	return p, writeBundle(m.store, user, store.RecordNotificationPrefs, p)
}

// Blocklist returns the user's focus blocklist.
func (m *Manager) Blocklist(user string) []string {
	var paths []string
	if !readBundle(m.store, user, store.RecordFocusBlocklist, &paths) {
		return DefaultBlocklist()
	}
	return paths
}

// SetBlocklist replaces the focus blocklist.
func (m *Manager) SetBlocklist(user string, paths []string) error {
	return writeBundle(m.store, user, store.RecordFocusBlocklist, paths)
}

// IsBlocked reports whether a path is gated during focus mode.
func (m *Manager) IsBlocked(user, path string) bool {
	for _, p := range m.Blocklist(user) {
		if p == path {
			return true
		}
	}
	return false
}

// Focus returns the user's focus session state.
func (m *Manager) Focus(user string) FocusSession {
	var f FocusSession
	readBundle(m.store, user, store.RecordFocusSession, &f)
	return f
}

// StartFocus activates focus mode. Resuming from pause keeps the original
// start time; starting fresh stamps now.
func (m *Manager) StartFocus(user string, nowMs int64) (FocusSession, error) {
	f := m.Focus(user)
	start := nowMs
	if f.IsActive && !f.IsPaused {
		start = f.StartTime
	}
	f = FocusSession{IsActive: true, IsPaused: false, StartTime: start}
	return f, writeBundle(m.store, user, store.RecordFocusSession, f)
}

// PauseFocus pauses an active focus session.
func (m *Manager) PauseFocus(user string) (FocusSession, error) {
	f := m.Focus(user)
	f.IsPaused = true
	return f, writeBundle(m.store, user, store.RecordFocusSession, f)
}

// StopFocus deactivates focus mode.
func (m *Manager) StopFocus(user string) (FocusSession, error) {
	f := FocusSession{}
	return f, writeBundle(m.store, user, store.RecordFocusSession, f)
}

// EncryptionEnabled reports the at-rest encryption preference.
func (m *Manager) EncryptionEnabled(user string) bool {
	return m.store.EncryptionEnabled(user)
}

// SetEncryptionEnabled flips the encryption preference; the store migrates
// existing rows atomically.
func (m *Manager) SetEncryptionEnabled(user string, enabled bool) error {
	return m.store.SetEncryptionEnabled(user, enabled)
}

// readBundle loads a JSON bundle into dst, reporting whether a stored
// value was used. Unreadable values leave dst untouched.
func readBundle(s *store.Store, user, name string, dst any) bool {
	value, ok := s.Record(user, name)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false
	}
	return true
}

func writeBundle(s *store.Store, user, name string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.SetRecord(user, name, string(value), true)
}
