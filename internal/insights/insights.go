// Package insights turns routine patterns and recent events into
// natural-language insights and threshold-triggered recommendations.
//
// Everything here is pure derivation over its inputs. Presentation
// filtering (quiet hours, dismissals) is a separate step so callers can
// store the full recommendation set and filter per display.
package insights

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"lifetrackd/internal/event"
	"lifetrackd/internal/prefs"
	"lifetrackd/internal/remote"
)

// Confidence scores for locally derived recommendations.
const (
	overuseConfidence = 85
	focusConfidence   = 70
)

const (
	recentEventsForPrediction = 10
	focusMinEvents            = 5
	focusMinProductive        = 3600 // seconds
)

// Insights is the formatted presentation of patterns and a prediction.
type Insights struct {
	PatternSummaries []string `json:"patternSummaries"`

	// PredictedContext is the context kind the user is most likely in
	// next, from their most recent events.
	PredictedContext string `json:"predictedContext"`

	Summary string `json:"summary"`
}

// Format renders one sentence per routine pattern, predicts the next
// context from the last events, and summarizes the data volume.
func Format(patterns []remote.RoutinePattern, events []event.RemoteEvent) Insights {
	in := Insights{
		PredictedContext: predictContext(events),
		Summary: fmt.Sprintf("Derived from %d events and %d routine patterns.",
			len(events), len(patterns)),
	}

	for _, p := range patterns {
		// Whole minutes, rounded down.
		minutes := int(p.AverageDuration / 60)
		in.PatternSummaries = append(in.PatternSummaries, fmt.Sprintf(
			"You typically spend %d minutes on %s activities during the %s, occurring %d times in the analyzed period.",
			minutes, contextLabel(p.Context), p.TimeOfDay.Dominant(), p.Frequency))
	}
	return in
}

// predictContext returns the mode of the context kinds among the last 10
// events. Ties go to the first-encountered kind; no usable events predict
// work.
func predictContext(events []event.RemoteEvent) string {
	start := len(events) - recentEventsForPrediction
	if start < 0 {
		start = 0
	}

	counts := map[string]int{}
	var order []string
	for _, ev := range events[start:] {
		if ev.Context == nil {
			continue
		}
		kind := ev.Context.Kind
		if _, ok := counts[kind]; !ok {
			order = append(order, kind)
		}
		counts[kind]++
	}

	best := event.KindWork
	bestCount := 0
	for _, kind := range order {
		if counts[kind] > bestCount {
			best = kind
			bestCount = counts[kind]
		}
	}
	return best
}

// GenerateRecommendations derives threshold alerts from the last 24 hours
// of events. Overuse alerts fire per configured daily ceiling; a focus
// suggestion fires when an active day shows little productive time.
func GenerateRecommendations(events []event.RemoteEvent, p prefs.RecommendationPreferences, now time.Time) []remote.Recommendation {
	cutoff := now.UnixNano() - (24 * time.Hour).Nanoseconds()

	seconds := map[string]int64{}
	windowed := 0
	for _, ev := range events {
		if ev.Timestamp < cutoff || ev.Timestamp > now.UnixNano() {
			continue
		}
		windowed++
		if ev.Duration == nil || ev.Context == nil {
			continue
		}
		seconds[ev.Context.Kind] += *ev.Duration
	}

	var recs []remote.Recommendation

	// Sorted keys keep the output order stable across runs.
	kinds := make([]string, 0, len(p.MaxMinutesPerDay))
	for kind := range p.MaxMinutesPerDay {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		limit := p.MaxMinutesPerDay[kind]
		minutes := int(seconds[kind] / 60)
		if limit <= 0 || minutes <= limit {
			continue
		}
		recs = append(recs, remote.Recommendation{
			Title:    fmt.Sprintf("%s Overuse Alert", titleCase(kind)),
			Category: remote.CategoryOveruseAlert,
			Message: fmt.Sprintf("You spent %d minutes on %s today, over your %d minute limit.",
				minutes, kind, limit),
			UrgencyLevel:    remote.UrgencyMedium,
			ConfidenceScore: overuseConfidence,
		})
	}

	productive := seconds[event.KindStudy] + seconds[event.KindWork]
	if productive < focusMinProductive && windowed > focusMinEvents {
		recs = append(recs, remote.Recommendation{
			Title:    "Focus Window Suggestion",
			Category: remote.CategoryFocusSuggestion,
			Message: fmt.Sprintf("Lots of activity but only %d productive minutes today. Consider scheduling a focus block.",
				productive/60),
			UrgencyLevel:    remote.UrgencyLow,
			ConfidenceScore: focusConfidence,
		})
	}

	return recs
}

// FilterForPresentation drops dismissed recommendations and, during quiet
// hours, everything below high urgency.
func FilterForPresentation(recs []remote.Recommendation, p prefs.RecommendationPreferences, now time.Time) []remote.Recommendation {
	dismissed := map[string]bool{}
	for _, title := range p.DismissedRecommendations {
		dismissed[title] = true
	}

	quiet := inQuietHours(now.Hour(), p.QuietHoursStart, p.QuietHoursEnd)

	var kept []remote.Recommendation
	for _, rec := range recs {
		if dismissed[rec.Title] {
			continue
		}
		if quiet && rec.UrgencyLevel != remote.UrgencyHigh {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// inQuietHours reports whether hour falls in the [start, end) window
// wrapping midnight.
func inQuietHours(hour, start, end int) bool {
	return hour >= start || hour < end
}

func contextLabel(c event.UsageContext) string {
	if c.Kind == event.KindOther && c.Other != "" {
		return c.Other
	}
	return c.Kind
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
