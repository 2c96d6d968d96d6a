package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifetrackd/internal/event"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/store"
)

const testUser = "principal-a"

type fakeClient struct {
	mu        sync.Mutex
	events    []string
	detailed  []string
	failIDs   map[string]bool
	unblock   chan struct{} // when set, submissions wait on it
}

func (c *fakeClient) SubmitEvent(ctx context.Context, ev event.RemoteEvent) error {
	return c.record(ev.ID, false)
}

func (c *fakeClient) SubmitDetailedEvent(ctx context.Context, ev event.RemoteDetailedEvent) error {
	return c.record(ev.ID, true)
}

func (c *fakeClient) record(id string, detailed bool) error {
	c.mu.Lock()
	wait := c.unblock
	c.mu.Unlock()
	if wait != nil {
		<-wait
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIDs[id] {
		return errors.New("backend unavailable")
	}
	if detailed {
		c.detailed = append(c.detailed, id)
	} else {
		c.events = append(c.events, id)
	}
	return nil
}

func (c *fakeClient) submitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := append([]string{}, c.events...)
	return append(all, c.detailed...)
}

func (c *fakeClient) FetchSnapshot(ctx context.Context) (*remote.Snapshot, error) {
	return &remote.Snapshot{}, nil
}

func (c *fakeClient) FetchEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteEvent, error) {
	return nil, nil
}

func (c *fakeClient) FetchDetailedEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteDetailedEvent, error) {
	return nil, nil
}

func (c *fakeClient) AlertsByUrgency(ctx context.Context, urgency remote.Urgency) ([]remote.Recommendation, error) {
	return nil, nil
}

func (c *fakeClient) SubmitRecommendation(ctx context.Context, rec remote.Recommendation) error {
	return nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lifetrack.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendEvents(t *testing.T, s *store.Store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		ev := event.DetailedEvent{Event: event.Event{
			ID:        id,
			Timestamp: int64(i),
			EventType: "page_enter",
			Source:    event.SourceApp,
		}}
		require.NoError(t, s.AppendEvent(testUser, ev))
	}
}

func newTestEngine(s *store.Store, c remote.Client, cfg Config) *Engine {
	e := New(s, c, testUser, cfg, nil)
	e.SetClock(func() time.Time { return time.UnixMilli(1_000_000) })
	return e
}

func TestCycleDrainsAndInvalidates(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{}
	e := newTestEngine(s, c, Config{})

	invalidated := 0
	e.OnSynced(func() { invalidated++ })

	appendEvents(t, s, "a", "b", "c")
	e.RunCycle(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, c.submitted())
	assert.Empty(t, s.UnsyncedEvents(testUser))
	assert.Equal(t, 1, invalidated)
}

func TestPerEventFailureDoesNotAbortBatch(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{failIDs: map[string]bool{"b": true}}
	e := newTestEngine(s, c, Config{})

	appendEvents(t, s, "a", "b", "c")
	e.RunCycle(context.Background())

	assert.Equal(t, []string{"a", "c"}, c.submitted())

	pending := s.UnsyncedEvents(testUser)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Event.ID)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestBackoffDelaysRetry(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{failIDs: map[string]bool{"a": true}}
	e := New(s, c, testUser, Config{Retry: RetryPolicy{MaxAttempts: 0, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Multiplier: 2}}, nil)

	now := time.UnixMilli(1_000_000)
	e.SetClock(func() time.Time { return now })

	appendEvents(t, s, "a")
	e.RunCycle(context.Background())
	require.Len(t, s.UnsyncedEvents(testUser), 1)

	// Inside the backoff window: nothing leaves the store.
	c.mu.Lock()
	c.failIDs = nil
	c.mu.Unlock()
	now = now.Add(5 * time.Second)
	e.RunCycle(context.Background())
	assert.Empty(t, c.submitted())

	// Past the window the event goes through.
	now = now.Add(6 * time.Second)
	e.RunCycle(context.Background())
	assert.Equal(t, []string{"a"}, c.submitted())
	assert.Empty(t, s.UnsyncedEvents(testUser))
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{failIDs: map[string]bool{"a": true}}
	e := New(s, c, testUser, Config{Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}}, nil)

	now := time.UnixMilli(1_000_000)
	e.SetClock(func() time.Time { return now })

	appendEvents(t, s, "a")
	for i := 0; i < 3; i++ {
		e.RunCycle(context.Background())
		now = now.Add(time.Minute)
	}

	assert.Empty(t, s.UnsyncedEvents(testUser))
	assert.Equal(t, 1, s.DeadLetterCount(testUser))
	// Still in the durable log for inspection.
	assert.Len(t, s.Events(testUser), 1)
}

func TestBatchSizeCapsCycle(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{}
	e := newTestEngine(s, c, Config{BatchSize: 10})

	ids := make([]string, 15)
	for i := range ids {
		ids[i] = event.NewID()
	}
	appendEvents(t, s, ids...)

	e.RunCycle(context.Background())
	assert.Len(t, c.submitted(), 10)

	e.RunCycle(context.Background())
	assert.Len(t, c.submitted(), 15)
	assert.Empty(t, s.UnsyncedEvents(testUser))
}

func TestSingleFlight(t *testing.T) {
	s := testStore(t)
	unblock := make(chan struct{})
	c := &fakeClient{unblock: unblock}
	e := newTestEngine(s, c, Config{})

	appendEvents(t, s, "a", "b")

	first := make(chan struct{})
	go func() {
		defer close(first)
		e.RunCycle(context.Background())
	}()

	// Wait until the first cycle is draining, then trigger overlapping
	// cycles; they must all be skipped.
	require.Eventually(t, func() bool { return e.draining.Load() }, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		e.RunCycle(context.Background())
	}

	close(unblock)
	<-first

	assert.Equal(t, []string{"a", "b"}, c.submitted(), "overlapping cycles double-submitted")
}

func TestDetailedEventsUseDetailedIngestion(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{}
	e := newTestEngine(s, c, Config{})

	plain := event.DetailedEvent{Event: event.Event{ID: "p", Timestamp: 1, EventType: "page_enter", Source: event.SourceApp}}
	rich := event.DetailedEvent{
		Event:           event.Event{ID: "d", Timestamp: 2, EventType: "button_click", Source: event.SourceApp},
		InteractionType: "submit",
	}
	require.NoError(t, s.AppendEvent(testUser, plain))
	require.NoError(t, s.AppendEvent(testUser, rich))

	e.RunCycle(context.Background())

	assert.Equal(t, []string{"p"}, c.events)
	assert.Equal(t, []string{"d"}, c.detailed)
}

func TestEmptyCycleIsNoOp(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{}
	e := newTestEngine(s, c, Config{})

	invalidated := 0
	e.OnSynced(func() { invalidated++ })

	e.RunCycle(context.Background())

	assert.Empty(t, c.submitted())
	assert.Zero(t, invalidated)
}

func TestStartStopLifecycle(t *testing.T) {
	s := testStore(t)
	c := &fakeClient{}
	e := New(s, c, testUser, Config{Interval: time.Hour}, nil)

	appendEvents(t, s, "a")

	e.Start()
	require.Eventually(t, func() bool {
		return len(s.UnsyncedEvents(testUser)) == 0
	}, time.Second, time.Millisecond, "eager cycle did not drain")
	e.Stop()

	// Stop is idempotent and Start works again.
	e.Stop()
	e.Start()
	e.Stop()
}
