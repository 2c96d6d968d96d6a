// Package syncer drains the local event log to the remote backend.
//
// The engine runs one background goroutine: a fixed-interval ticker plus
// one eager cycle on start. Each cycle snapshots the unsynced set, submits
// up to a batch of events one by one, marks the accepted ids synced in a
// single batch update, and records failures for backoff. A cycle triggered
// while another is draining is skipped, so no event is ever submitted by
// two cycles at once. Nothing here surfaces to the user; failures are
// logged and retried.
package syncer

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"lifetrackd/internal/event"
	"lifetrackd/internal/logging"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/store"
)

// RetryPolicy controls per-event submission retries across cycles.
type RetryPolicy struct {
	// MaxAttempts dead-letters an event after this many failed
	// submissions; <= 0 retries forever.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; each further failure
	// multiplies it, capped at MaxDelay.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryPolicy returns the standard backoff schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   10 * time.Second,
		MaxDelay:    10 * time.Minute,
		Multiplier:  2,
	}
}

// delay returns the wait before the next attempt for an event that has
// failed `attempts` times already.
func (p RetryPolicy) delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Config tunes the engine.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Retry     RetryPolicy
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Interval:  10 * time.Second,
		BatchSize: 10,
		Retry:     DefaultRetryPolicy(),
	}
}

// Engine pushes one user's unsynced events to the backend.
type Engine struct {
	store  *store.Store
	client remote.Client
	user   string
	cfg    Config
	log    *logging.Logger

	onSynced func()
	now      func() time.Time

	draining atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an engine for the given user principal. Zero config fields
// fall back to defaults.
func New(s *store.Store, client remote.Client, user string, cfg Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = def.Retry
	}
	return &Engine{
		store:  s,
		client: client,
		user:   user,
		cfg:    cfg,
		log:    log.WithComponent("syncer"),
		now:    time.Now,
	}
}

// OnSynced registers a hook invoked after any ids are marked synced, for
// read-view invalidation. Must be set before Start.
func (e *Engine) OnSynced(fn func()) {
	e.onSynced = fn
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start launches the background loop: one eager cycle, then one per tick.
func (e *Engine) Start() {
	if e.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		e.RunCycle(ctx)

		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.RunCycle(ctx)
			}
		}
	}()

	e.log.Info("sync engine started", "interval", e.cfg.Interval, "batch_size", e.cfg.BatchSize)
}

// Stop cancels the loop and waits for the current cycle to finish. An
// in-flight submission completes; its outcome is recorded as usual.
func (e *Engine) Stop() {
	if e.done == nil {
		return
	}
	e.cancel()
	<-e.done
	e.done = nil
	e.log.Info("sync engine stopped")
}

// RunCycle drains one batch. It is safe to call from any goroutine; a call
// that overlaps a running cycle returns immediately without submitting.
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		e.log.Debug("cycle skipped, drain in progress")
		return
	}
	defer e.draining.Store(false)

	pending := e.store.UnsyncedEvents(e.user)
	if len(pending) == 0 {
		return
	}

	now := e.now()
	nowMs := now.UnixMilli()

	batch := e.eligible(pending, now)
	if len(batch) == 0 {
		return
	}

	var accepted, failed []string
	for _, p := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := e.submit(ctx, p.Event); err != nil {
			e.log.Warn("event submission failed",
				"event_id", p.Event.ID, "attempts", p.Attempts+1, "error", err)
			failed = append(failed, p.Event.ID)
			continue
		}
		accepted = append(accepted, p.Event.ID)
	}

	if err := e.store.MarkSynced(e.user, accepted); err != nil {
		e.log.Error("marking synced failed", "count", len(accepted), "error", err)
	}
	if err := e.store.RecordFailure(e.user, failed, nowMs, e.cfg.Retry.MaxAttempts); err != nil {
		e.log.Error("recording failures failed", "count", len(failed), "error", err)
	}

	if len(accepted) > 0 {
		e.log.Debug("cycle drained", "accepted", len(accepted), "failed", len(failed))
		if e.onSynced != nil {
			e.onSynced()
		}
	}
}

// eligible filters the snapshot down to events outside their backoff
// window, in store order, capped at the batch size.
func (e *Engine) eligible(pending []store.PendingEvent, now time.Time) []store.PendingEvent {
	var batch []store.PendingEvent
	for _, p := range pending {
		if p.Attempts > 0 {
			next := time.UnixMilli(p.LastAttempt).Add(e.cfg.Retry.delay(p.Attempts))
			if now.Before(next) {
				continue
			}
		}
		batch = append(batch, p)
		if len(batch) == e.cfg.BatchSize {
			break
		}
	}
	return batch
}

func (e *Engine) submit(ctx context.Context, ev event.DetailedEvent) error {
	if ev.IsDetailed() {
		return e.client.SubmitDetailedEvent(ctx, event.DetailedToRemote(ev))
	}
	return e.client.SubmitEvent(ctx, event.ToRemote(ev.Event))
}
