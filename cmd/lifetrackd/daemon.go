package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"lifetrackd/internal/analytics"
	"lifetrackd/internal/config"
	"lifetrackd/internal/insights"
	"lifetrackd/internal/syncer"
	"lifetrackd/internal/views"
)

func cmdDaemon() {
	loader := config.NewLoader(configPathFromEnv())
	if _, err := loader.Load(); err != nil {
		fatal("%v", err)
	}

	app := mustOpenApp()
	defer app.Close()

	tr := app.Tracker()
	if err := tr.Start(); err != nil {
		fatal("start session: %v", err)
	}

	var engine *syncer.Engine
	var cache *views.Cache
	if app.Client != nil && app.Cfg.Sync.Enabled {
		cache = views.NewCache(app.Client, app.Log)
		unbind := cache.BindStore(app.Store)
		defer unbind()

		engine = syncer.New(app.Store, app.Client, app.User, syncConfigFromApp(app), app.Log)
		engine.OnSynced(cache.Invalidate)
		engine.Start()
		app.Log.Info("sync engine started",
			"interval_sec", app.Cfg.Sync.IntervalSec,
			"batch_size", app.Cfg.Sync.BatchSize)
	} else {
		app.Log.Info("sync disabled, running local-only")
	}

	sched := cron.New()
	if spec := app.Cfg.Tracker.DigestSchedule; spec != "" {
		if _, err := sched.AddFunc(spec, func() { runDigest(app) }); err != nil {
			fatal("digest schedule %q: %v", spec, err)
		}
		sched.Start()
	}

	// Structural changes (storage path, remote endpoint) need a restart;
	// everything else is logged so the operator can see the new values.
	loader.OnChange(func(cfg *config.Config) {
		app.Log.Info("config reloaded",
			"sync_interval_sec", cfg.Sync.IntervalSec,
			"sync_batch_size", cfg.Sync.BatchSize)
		if cfg.Storage.Path != app.Cfg.Storage.Path || cfg.Remote.BaseURL != app.Cfg.Remote.BaseURL {
			app.Log.Warn("storage or remote changes require a restart")
		}
	})
	if err := loader.Watch(); err != nil {
		app.Log.Warn("config watch unavailable", "error", err)
	}
	go func() {
		for err := range loader.Errors() {
			app.Log.Warn("config reload failed", "error", err)
		}
	}()

	app.Log.Info("daemon running", "user", app.User)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	app.Log.Info("shutting down", "signal", sig.String())

	sched.Stop()
	if err := tr.Stop(); err != nil {
		app.Log.Warn("close session", "error", err)
	}
	if engine != nil {
		engine.Stop()
	}
	loader.Close()
}

// runDigest derives the daily summary and recommendations from the local
// log and pushes noteworthy recommendations upstream.
func runDigest(app *App) {
	events, detailed := localRemoteEvents(app)
	now := time.Now()

	s := analytics.Derive(events, detailed, analytics.Daily, now)
	app.Log.Info("daily digest",
		"sessions", s.TotalSessions,
		"tracked_min", s.TotalDuration/60,
		"focus_score", s.FocusScore,
		"productivity_index", s.ProductivityIndex)

	p := app.Prefs.Recommendation(app.User)
	recs := insights.GenerateRecommendations(events, p, now)
	recs = insights.FilterForPresentation(recs, p, now)
	for _, rec := range recs {
		app.Log.Info("recommendation",
			"title", rec.Title,
			"urgency", string(rec.UrgencyLevel),
			"message", rec.Message)
		if app.Client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := app.Client.SubmitRecommendation(ctx, rec); err != nil {
				app.Log.Warn("submit recommendation", "title", rec.Title, "error", err)
			}
			cancel()
		}
	}
}
