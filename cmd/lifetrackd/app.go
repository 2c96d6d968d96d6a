package main

import (
	"errors"
	"fmt"
	"time"

	"lifetrackd/internal/config"
	"lifetrackd/internal/identity"
	"lifetrackd/internal/logging"
	"lifetrackd/internal/prefs"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/store"
	"lifetrackd/internal/tracker"
	"lifetrackd/internal/vault"
)

// localUser keys durable records when no identity token is present.
const localUser = "local"

// App bundles the wiring shared by every subcommand.
type App struct {
	Cfg   *config.Config
	Log   *logging.Logger
	Store *store.Store
	Prefs *prefs.Manager

	// User is the identity principal, or "local" in local-only mode.
	User string

	// ID is nil in local-only mode.
	ID *identity.Identity

	// Client is nil when sync is unavailable (no identity or no backend).
	Client remote.Client
}

// openApp loads config and opens the store, vault, and identity.
func openApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Storage.Path, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	s.SetCipher(vault.New(s))

	app := &App{
		Cfg:   cfg,
		Log:   log,
		Store: s,
		Prefs: prefs.NewManager(s),
		User:  localUser,
	}

	id, err := identity.FromFile(cfg.Identity.TokenPath, time.Now())
	switch {
	case err == nil:
		app.ID = id
		app.User = id.Principal
		if cfg.Remote.BaseURL != "" {
			app.Client = remote.NewHTTPClient(cfg.Remote.BaseURL, id.Token, log)
		}
	case errors.Is(err, identity.ErrNoIdentity), errors.Is(err, identity.ErrTokenExpired):
		log.Info("no usable identity, running local-only", "identity_file", cfg.Identity.TokenPath)
	default:
		app.Close()
		return nil, err
	}

	return app, nil
}

// mustOpenApp is openApp for subcommands, exiting on failure.
func mustOpenApp() *App {
	app, err := openApp(configPathFromEnv())
	if err != nil {
		fatal("%v", err)
	}
	return app
}

func configPathFromEnv() string {
	// Empty means the default path; config.Load resolves it.
	return ""
}

// Tracker builds a tracker for the app's user.
func (a *App) Tracker() *tracker.Tracker {
	return tracker.New(a.Store, a.User, a.Log)
}

// Close releases the store and log file.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Close()
	}
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}

	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "lifetrackd",
	})
}
