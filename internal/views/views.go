// Package views caches remote read results so repeated reads between sync
// cycles do not refetch. Invalidation is push-based: the cache subscribes
// to store mutations and the sync engine's post-drain hook, and the next
// read after an invalidation goes back to the backend.
package views

import (
	"context"
	"sync"

	"lifetrackd/internal/event"
	"lifetrackd/internal/logging"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/store"
)

// Cache is an in-memory cache over one user's remote reads.
type Cache struct {
	client remote.Client
	log    *logging.Logger

	mu       sync.Mutex
	snapshot *remote.Snapshot
	events   []event.RemoteEvent
	alerts   map[remote.Urgency][]remote.Recommendation
}

// NewCache creates a cache over the given client.
func NewCache(client remote.Client, log *logging.Logger) *Cache {
	if log == nil {
		log = logging.Default()
	}
	return &Cache{
		client: client,
		log:    log.WithComponent("views"),
	}
}

// BindStore invalidates the cache on local event-log mutations. The
// returned function cancels the subscription.
func (c *Cache) BindStore(s *store.Store) func() {
	return s.Subscribe(func(store.Topic) { c.Invalidate() }, store.TopicEvents)
}

// Invalidate drops every cached view.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.events = nil
	c.alerts = nil
	c.log.Debug("views invalidated")
}

// Snapshot returns the aggregate snapshot, fetching on a cold cache.
// Errors are not cached; the next read retries.
func (c *Cache) Snapshot(ctx context.Context) (*remote.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		return c.snapshot, nil
	}

	snap, err := c.client.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot = snap
	return snap, nil
}

// Events returns the unfiltered remote event list, fetching on a cold
// cache. Filtered reads bypass the cache; see EventsByContext.
func (c *Cache) Events(ctx context.Context) ([]event.RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events != nil {
		return c.events, nil
	}

	events, err := c.client.FetchEvents(ctx, nil)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []event.RemoteEvent{}
	}
	c.events = events
	return events, nil
}

// EventsByContext is an uncached pass-through for filtered reads; the
// filter space is unbounded, so caching per filter would never be warm.
func (c *Cache) EventsByContext(ctx context.Context, filter *event.UsageContext) ([]event.RemoteEvent, error) {
	return c.client.FetchEvents(ctx, filter)
}

// Alerts returns recommendations at one urgency, fetching on a cold cache.
func (c *Cache) Alerts(ctx context.Context, urgency remote.Urgency) ([]remote.Recommendation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.alerts[urgency]; ok {
		return cached, nil
	}

	recs, err := c.client.AlertsByUrgency(ctx, urgency)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []remote.Recommendation{}
	}
	if c.alerts == nil {
		c.alerts = map[remote.Urgency][]remote.Recommendation{}
	}
	c.alerts[urgency] = recs
	return recs, nil
}
