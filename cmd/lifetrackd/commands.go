package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"lifetrackd/internal/analytics"
	"lifetrackd/internal/config"
	"lifetrackd/internal/event"
	"lifetrackd/internal/insights"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/syncer"
)

func cmdInit() {
	path := config.ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			fatal("write config: %v", err)
		}
		fmt.Printf("Created %s\n", path)
	} else {
		fmt.Printf("Config already exists at %s\n", path)
	}

	app := mustOpenApp()
	defer app.Close()

	if err := app.Cfg.EnsureDirectories(); err != nil {
		fatal("create directories: %v", err)
	}

	fmt.Printf("Store ready at %s\n", app.Cfg.Storage.Path)
	if app.ID == nil {
		fmt.Printf("No identity token at %s; tracking will stay local until one is added.\n",
			app.Cfg.Identity.TokenPath)
	} else {
		fmt.Printf("Identity: %s\n", app.User)
	}
}

// localRemoteEvents converts the local log to wire form for derivation.
func localRemoteEvents(app *App) ([]event.RemoteEvent, []event.RemoteDetailedEvent) {
	var plain []event.RemoteEvent
	var detailed []event.RemoteDetailedEvent
	for _, ev := range app.Store.Events(app.User) {
		if ev.IsDetailed() {
			detailed = append(detailed, event.DetailedToRemote(ev))
		}
		plain = append(plain, event.ToRemote(ev.Event))
	}
	return plain, detailed
}

func cmdAnalytics() {
	timeRange := analytics.Daily
	if len(os.Args) > 2 {
		switch os.Args[2] {
		case "daily":
		case "weekly":
			timeRange = analytics.Weekly
		default:
			fatal("unknown range %q (use daily or weekly)", os.Args[2])
		}
	}

	app := mustOpenApp()
	defer app.Close()

	events, detailed := localRemoteEvents(app)
	s := analytics.Derive(events, detailed, timeRange, time.Now())

	fmt.Printf("Usage (%s)\n", s.TimeRange)
	fmt.Printf("  Sessions:       %d\n", s.TotalSessions)
	fmt.Printf("  Tracked time:   %d min\n", s.TotalDuration/60)
	fmt.Printf("  Focus score:    %d  (%s)\n", s.FocusScore, s.FocusSummary)
	fmt.Printf("  Productivity:   %d  (%s)\n", s.ProductivityIndex, s.ProductivitySummary)

	if len(s.TimeByContext) > 0 {
		fmt.Println("  By context:")
		for _, c := range s.TimeByContext {
			fmt.Printf("    %-15s %d min\n", c.Context, c.Duration/60)
		}
	}
	if len(s.TopActivities) > 0 {
		fmt.Println("  Top activities:")
		for _, a := range s.TopActivities {
			fmt.Printf("    %-15s %d times, %d min\n", a.EventType, a.Count, a.Duration/60)
		}
	}
	if len(s.SessionsTrend) > 0 {
		fmt.Println("  Sessions per day:")
		for _, p := range s.SessionsTrend {
			fmt.Printf("    %s  %d\n", p.Date, p.Sessions)
		}
	}
}

func cmdInsights() {
	app := mustOpenApp()
	defer app.Close()

	events, _ := localRemoteEvents(app)

	// Routine patterns come from the backend; without one, insights are
	// derived from the local log alone.
	var patterns []remote.RoutinePattern
	if app.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		snap, err := app.Client.FetchSnapshot(ctx)
		cancel()
		if err != nil {
			app.Log.Warn("snapshot fetch failed, using local events only", "error", err)
		} else {
			patterns = snap.Patterns
			events = snap.Events
		}
	}

	in := insights.Format(patterns, events)
	fmt.Println(in.Summary)
	for _, s := range in.PatternSummaries {
		fmt.Printf("  - %s\n", s)
	}
	fmt.Printf("Likely next context: %s\n", in.PredictedContext)

	p := app.Prefs.Recommendation(app.User)
	recs := insights.GenerateRecommendations(events, p, time.Now())
	recs = insights.FilterForPresentation(recs, p, time.Now())
	if len(recs) == 0 {
		fmt.Println("No recommendations right now.")
		return
	}
	fmt.Println("Recommendations:")
	for _, rec := range recs {
		fmt.Printf("  [%s] %s: %s\n", rec.UrgencyLevel, rec.Title, rec.Message)
	}
}

func syncConfigFromApp(app *App) syncer.Config {
	return syncer.Config{
		Interval:  time.Duration(app.Cfg.Sync.IntervalSec) * time.Second,
		BatchSize: app.Cfg.Sync.BatchSize,
		Retry: syncer.RetryPolicy{
			MaxAttempts: app.Cfg.Sync.MaxAttempts,
			BaseDelay:   time.Duration(app.Cfg.Sync.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(app.Cfg.Sync.RetryMaxDelayMs) * time.Millisecond,
			Multiplier:  app.Cfg.Sync.RetryMultiplier,
		},
	}
}

func cmdSync() {
	app := mustOpenApp()
	defer app.Close()

	if app.Client == nil {
		fatal("sync requires an identity token and a configured remote.base_url")
	}

	before := len(app.Store.UnsyncedEvents(app.User))
	engine := syncer.New(app.Store, app.Client, app.User, syncConfigFromApp(app), app.Log)
	engine.RunCycle(context.Background())
	after := len(app.Store.UnsyncedEvents(app.User))

	fmt.Printf("Synced %d of %d pending events; %d remain.\n", before-after, before, after)
}

func cmdStatus() {
	app := mustOpenApp()
	defer app.Close()

	fmt.Printf("User:        %s\n", app.User)
	if app.ID != nil {
		state := "valid"
		if !app.ID.ExpiresAt.IsZero() {
			state = fmt.Sprintf("expires %s", app.ID.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Printf("Identity:    %s\n", state)
	} else {
		fmt.Println("Identity:    none (local-only mode)")
	}
	fmt.Printf("Store:       %s\n", app.Cfg.Storage.Path)

	events := app.Store.Events(app.User)
	pending := app.Store.UnsyncedEvents(app.User)
	fmt.Printf("Events:      %d total, %d pending sync, %d dead-lettered\n",
		len(events), len(pending), app.Store.DeadLetterCount(app.User))

	if sess := app.Store.Session(app.User); sess != nil {
		fmt.Printf("Session:     active since %s\n",
			time.UnixMilli(sess.StartTime).Format(time.RFC3339))
	} else {
		fmt.Println("Session:     none")
	}
	fmt.Printf("Context:     %s\n", app.Store.ContextTag(app.User))

	enc := "off"
	if app.Prefs.EncryptionEnabled(app.User) {
		enc = "on"
	}
	fmt.Printf("Encryption:  %s\n", enc)

	if f := app.Prefs.Focus(app.User); f.IsActive {
		state := "running"
		if f.IsPaused {
			state = "paused"
		}
		fmt.Printf("Focus mode:  %s since %s\n", state,
			time.UnixMilli(f.StartTime).Format(time.RFC3339))
	}
}
