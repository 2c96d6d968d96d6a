// Package analytics derives usage metrics from windowed event sets.
//
// Derivation is pure: the same events, range and reference time always
// produce the same summary, and malformed input (a missing duration, an
// absent context) is expressed through optionality, never an error.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"lifetrackd/internal/event"
)

// TimeRange selects the derivation window ending at the reference time.
type TimeRange string

const (
	Daily  TimeRange = "daily"
	Weekly TimeRange = "weekly"
)

func (r TimeRange) window() time.Duration {
	if r == Weekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// ContextDuration is seconds attributed to one context kind.
type ContextDuration struct {
	Context  string `json:"context"`
	Duration int64  `json:"duration"`
}

// Activity is one event type with its occurrence count and total duration.
type Activity struct {
	EventType string `json:"eventType"`
	Count     int    `json:"count"`
	Duration  int64  `json:"duration"`
}

// TrendPoint is the session count for one calendar date.
type TrendPoint struct {
	Date     string `json:"date"` // YYYY-MM-DD, local time
	Sessions int    `json:"sessions"`
}

// Summary is the derived metric set for one window.
type Summary struct {
	TimeRange     TimeRange         `json:"timeRange"`
	TotalSessions int               `json:"totalSessions"`
	TotalDuration int64             `json:"totalDuration"` // seconds
	TimeByContext []ContextDuration `json:"timeByContext"`
	FocusScore    int               `json:"focusScore"` // 0-100
	FocusSummary  string            `json:"focusSummary"`

	// ProductivityIndex is productive minutes per session.
	ProductivityIndex   int    `json:"productivityIndex"`
	ProductivitySummary string `json:"productivitySummary"`

	SessionsTrend []TrendPoint `json:"sessionsTrend"`
	TopActivities []Activity   `json:"topActivities"`
}

const topActivityCount = 5

// Derive computes the summary for events inside the window ending at now.
// Metrics are defined over the plain event set; detailed events carry no
// additional metric weight and are accepted only so callers can pass a
// snapshot through unchanged.
func Derive(events []event.RemoteEvent, detailed []event.RemoteDetailedEvent, timeRange TimeRange, now time.Time) Summary {
	_ = detailed
	windowed := inWindow(events, timeRange.window(), now)

	s := Summary{TimeRange: timeRange}

	byContext := map[string]int64{}
	var contextOrder []string
	byType := map[string]*Activity{}
	var typeOrder []string
	byDate := map[string]int{}

	for _, ev := range windowed {
		if ev.EventType == "session_start" {
			s.TotalSessions++
			date := time.Unix(0, ev.Timestamp).Format("2006-01-02")
			byDate[date]++
		}

		if a, ok := byType[ev.EventType]; ok {
			a.Count++
		} else {
			byType[ev.EventType] = &Activity{EventType: ev.EventType, Count: 1}
			typeOrder = append(typeOrder, ev.EventType)
		}

		if ev.Duration == nil {
			continue
		}
		d := *ev.Duration
		s.TotalDuration += d
		byType[ev.EventType].Duration += d

		if ev.Context != nil {
			kind := ev.Context.Kind
			if _, ok := byContext[kind]; !ok {
				contextOrder = append(contextOrder, kind)
			}
			byContext[kind] += d
		}
	}

	for _, kind := range contextOrder {
		s.TimeByContext = append(s.TimeByContext, ContextDuration{Context: kind, Duration: byContext[kind]})
	}

	productive := byContext[event.KindStudy] + byContext[event.KindWork]
	if s.TotalDuration > 0 {
		s.FocusScore = int(math.Round(100 * float64(productive) / float64(s.TotalDuration)))
	}
	s.FocusSummary = fmt.Sprintf("%d%% of %d tracked minutes went to study or work",
		s.FocusScore, s.TotalDuration/60)

	if s.TotalSessions > 0 {
		s.ProductivityIndex = int(math.Round(float64(productive) / float64(s.TotalSessions) / 60))
	}
	s.ProductivitySummary = fmt.Sprintf("%d productive minutes per session across %d sessions",
		s.ProductivityIndex, s.TotalSessions)

	for date, count := range byDate {
		s.SessionsTrend = append(s.SessionsTrend, TrendPoint{Date: date, Sessions: count})
	}
	sort.Slice(s.SessionsTrend, func(i, j int) bool {
		return s.SessionsTrend[i].Date < s.SessionsTrend[j].Date
	})

	s.TopActivities = topActivities(byType, typeOrder)
	return s
}

// inWindow keeps events at or after the cutoff. Timestamps ahead of now
// are kept too; clock skew between devices must not hide events.
func inWindow(events []event.RemoteEvent, window time.Duration, now time.Time) []event.RemoteEvent {
	cutoff := now.UnixNano() - window.Nanoseconds()
	var windowed []event.RemoteEvent
	for _, ev := range events {
		if ev.Timestamp >= cutoff {
			windowed = append(windowed, ev)
		}
	}
	return windowed
}

// topActivities ranks event types by count. Ties keep first-encountered
// order, which sort.SliceStable preserves from the insertion-ordered slice.
func topActivities(byType map[string]*Activity, order []string) []Activity {
	ranked := make([]Activity, 0, len(order))
	for _, name := range order {
		ranked = append(ranked, *byType[name])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > topActivityCount {
		ranked = ranked[:topActivityCount]
	}
	return ranked
}
