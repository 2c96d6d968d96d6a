// Package remote is the boundary to the usage backend: wire types for the
// aggregates it computes and an HTTP client for its ingestion and query
// calls. Aggregates are read-only here; the core derives presentation from
// them and never mutates them.
package remote

import (
	"lifetrackd/internal/event"
)

// Urgency grades a recommendation.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Recommendation categories.
const (
	CategoryOveruseAlert    = "overuse_alert"
	CategoryFocusSuggestion = "focus_suggestion"
)

// TimeOfDayHistogram buckets pattern occurrences by time of day. Bucket
// enumeration order is fixed: morning, evening, night, afternoon.
type TimeOfDayHistogram struct {
	Morning   int `json:"morning"`
	Evening   int `json:"evening"`
	Night     int `json:"night"`
	Afternoon int `json:"afternoon"`
}

// Dominant returns the bucket with the highest count. Ties go to the first
// bucket in enumeration order.
func (h TimeOfDayHistogram) Dominant() string {
	names := []string{"morning", "evening", "night", "afternoon"}
	counts := []int{h.Morning, h.Evening, h.Night, h.Afternoon}

	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return names[best]
}

// RoutinePattern is a backend-computed recurring-behavior aggregate.
type RoutinePattern struct {
	Context         event.UsageContext `json:"context"`
	AverageDuration float64            `json:"averageDuration"` // seconds
	Frequency       int                `json:"frequency"`
	DaysOfWeek      []int              `json:"daysOfWeek"` // 0 = Sunday
	TimeOfDay       TimeOfDayHistogram `json:"timeOfDay"`
}

// Recommendation is a backend- or locally-derived actionable suggestion.
type Recommendation struct {
	Title                 string    `json:"title"`
	Category              string    `json:"category"`
	Message               string    `json:"message"`
	UrgencyLevel          Urgency   `json:"urgencyLevel"`
	ConfidenceScore       int       `json:"confidenceScore"` // 0-100
	HistoricalPerformance []float64 `json:"historicalPerformance,omitempty"`
}

// Snapshot is the backend's aggregate view of a user's data.
type Snapshot struct {
	Events          []event.RemoteEvent         `json:"events"`
	DetailedEvents  []event.RemoteDetailedEvent `json:"detailedEvents"`
	Patterns        []RoutinePattern            `json:"patterns"`
	Recommendations []Recommendation            `json:"recommendations"`
}
