// Package event defines the local and remote representations of a tracked
// usage occurrence and the pure converters between them.
//
// The local form is what the durable store persists: millisecond
// timestamps, an open context tag, and a synced flag owned by the sync
// engine. The remote form is the wire shape the backend accepts: nanosecond
// timestamps and a closed context variant.
package event

import (
	"math"

	"github.com/oklog/ulid/v2"
)

// ContextTag is the user-assigned category of current activity.
type ContextTag string

// Context tags as the user selects them.
const (
	ContextStudy         ContextTag = "Study"
	ContextWork          ContextTag = "Work"
	ContextEntertainment ContextTag = "Entertainment"
	ContextIdle          ContextTag = "Idle"
	ContextCustom        ContextTag = "Custom"
)

// Source identifies where an event was produced.
type Source string

const (
	SourceApp     Source = "app"
	SourceBrowser Source = "browser"
)

// Event is a single recorded occurrence of user interaction, local form.
//
// ID is globally unique within a user's log. Synced starts false and is
// flipped to true exactly once, by the sync engine, after the backend has
// accepted the event; it is never reset.
type Event struct {
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // milliseconds since epoch
	EventType string     `json:"eventType"`
	Duration  *int64     `json:"duration,omitempty"` // seconds
	Context   ContextTag `json:"context,omitempty"`
	Tags      []string   `json:"tags"`
	Source    Source     `json:"source"`
	Synced    bool       `json:"synced"`
}

// DetailedEvent extends Event with optional free-text interaction metadata.
// Identity and sync invariants are identical to Event.
type DetailedEvent struct {
	Event
	InteractionType string `json:"interactionType,omitempty"`
	PageDetails     string `json:"pageDetails,omitempty"`
	DeviceDetails   string `json:"deviceDetails,omitempty"`
	AdditionalData  string `json:"additionalData,omitempty"`
}

// IsDetailed reports whether any detail field is set, which decides the
// remote ingestion call used during sync.
func (e *DetailedEvent) IsDetailed() bool {
	return e.InteractionType != "" || e.PageDetails != "" ||
		e.DeviceDetails != "" || e.AdditionalData != ""
}

// Session is a continuous span of application use. At most one is active
// per user; StartTime is milliseconds since epoch.
type Session struct {
	ID        string `json:"id"`
	StartTime int64  `json:"startTime"`
}

// NewID returns a fresh unique identifier for events and sessions.
func NewID() string {
	return ulid.Make().String()
}

// UsageContext is the remote wire form of a context: a closed tagged
// variant with a freeform payload for the "other" kind.
type UsageContext struct {
	Kind  string `json:"kind"`
	Other string `json:"other,omitempty"`
}

// Remote context kinds.
const (
	KindStudy         = "study"
	KindWork          = "work"
	KindEntertainment = "entertainment"
	KindSocial        = "social"
	KindExercise      = "exercise"
	KindOther         = "other"
)

// Sentinel payloads for the "other" kind that round-trip to local tags.
const (
	otherIdle   = "idle"
	otherCustom = "custom"
)

// TagToUsageContext maps a local context tag onto the remote variant.
// Idle and Custom both map to "other" with a sentinel payload.
func TagToUsageContext(tag ContextTag) UsageContext {
	switch tag {
	case ContextStudy:
		return UsageContext{Kind: KindStudy}
	case ContextWork:
		return UsageContext{Kind: KindWork}
	case ContextEntertainment:
		return UsageContext{Kind: KindEntertainment}
	case ContextIdle:
		return UsageContext{Kind: KindOther, Other: otherIdle}
	default:
		return UsageContext{Kind: KindOther, Other: otherCustom}
	}
}

// UsageContextToTag maps a remote variant back to a local tag. Arbitrary
// "other" payloads beyond the two sentinels collapse to Custom; social and
// exercise have no local tag and collapse to Custom as well.
func UsageContextToTag(c UsageContext) ContextTag {
	switch c.Kind {
	case KindStudy:
		return ContextStudy
	case KindWork:
		return ContextWork
	case KindEntertainment:
		return ContextEntertainment
	case KindOther:
		if c.Other == otherIdle {
			return ContextIdle
		}
		return ContextCustom
	default:
		return ContextCustom
	}
}

// RemoteEvent is the wire form of Event. Timestamp is nanoseconds since
// epoch; duration stays in seconds.
type RemoteEvent struct {
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"` // nanoseconds since epoch
	EventType string        `json:"eventType"`
	Duration  *int64        `json:"duration,omitempty"`
	Context   *UsageContext `json:"context,omitempty"`
	Tags      []string      `json:"tags"`
	Source    Source        `json:"source"`
}

// RemoteInteraction is the wire form of an interaction type. Locally
// produced interactions always use the appSpecific kind.
type RemoteInteraction struct {
	Kind        string `json:"kind"`
	AppSpecific string `json:"appSpecific,omitempty"`
}

// RemoteDetailedEvent is the wire form of DetailedEvent.
type RemoteDetailedEvent struct {
	RemoteEvent
	InteractionType *RemoteInteraction `json:"interactionType,omitempty"`
	PageDetails     string             `json:"pageDetails,omitempty"`
	DeviceDetails   string             `json:"deviceDetails,omitempty"`
	AdditionalData  string             `json:"additionalData,omitempty"`
}

const msToNs = 1_000_000

// msToNanos converts a millisecond timestamp to nanoseconds, saturating at
// the int64 bounds instead of wrapping.
func msToNanos(ms int64) int64 {
	if ms > math.MaxInt64/msToNs {
		return math.MaxInt64
	}
	if ms < math.MinInt64/msToNs {
		return math.MinInt64
	}
	return ms * msToNs
}

// nanosToMs converts a nanosecond timestamp back to milliseconds.
func nanosToMs(ns int64) int64 {
	return ns / msToNs
}

// ToRemote converts a local event to its wire form. ID, eventType, tags,
// source and duration are preserved in value; only the timestamp unit and
// the context shape change.
func ToRemote(e Event) RemoteEvent {
	r := RemoteEvent{
		ID:        e.ID,
		Timestamp: msToNanos(e.Timestamp),
		EventType: e.EventType,
		Tags:      e.Tags,
		Source:    e.Source,
	}
	if e.Duration != nil {
		d := *e.Duration
		r.Duration = &d
	}
	if e.Context != "" {
		c := TagToUsageContext(e.Context)
		r.Context = &c
	}
	return r
}

// ToLocal converts a wire event back to the local form. The returned event
// is unsynced; the caller decides sync state.
func ToLocal(r RemoteEvent) Event {
	e := Event{
		ID:        r.ID,
		Timestamp: nanosToMs(r.Timestamp),
		EventType: r.EventType,
		Tags:      r.Tags,
		Source:    r.Source,
	}
	if r.Duration != nil {
		d := *r.Duration
		e.Duration = &d
	}
	if r.Context != nil {
		e.Context = UsageContextToTag(*r.Context)
	}
	return e
}

// DetailedToRemote converts a local detailed event to its wire form. The
// interaction type, when set, is carried as an appSpecific variant.
func DetailedToRemote(e DetailedEvent) RemoteDetailedEvent {
	r := RemoteDetailedEvent{
		RemoteEvent:    ToRemote(e.Event),
		PageDetails:    e.PageDetails,
		DeviceDetails:  e.DeviceDetails,
		AdditionalData: e.AdditionalData,
	}
	if e.InteractionType != "" {
		r.InteractionType = &RemoteInteraction{Kind: "appSpecific", AppSpecific: e.InteractionType}
	}
	return r
}

// DetailedToLocal converts a wire detailed event back to the local form.
func DetailedToLocal(r RemoteDetailedEvent) DetailedEvent {
	e := DetailedEvent{
		Event:          ToLocal(r.RemoteEvent),
		PageDetails:    r.PageDetails,
		DeviceDetails:  r.DeviceDetails,
		AdditionalData: r.AdditionalData,
	}
	if r.InteractionType != nil {
		if r.InteractionType.Kind == "appSpecific" {
			e.InteractionType = r.InteractionType.AppSpecific
		} else {
			e.InteractionType = r.InteractionType.Kind
		}
	}
	return e
}
