package views

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"lifetrackd/internal/event"
	"lifetrackd/internal/remote"
	"lifetrackd/internal/store"
)

type countingClient struct {
	snapshotFetches int
	eventFetches    int
	alertFetches    int
	fail            bool
}

func (c *countingClient) SubmitEvent(ctx context.Context, ev event.RemoteEvent) error {
	return nil
}

func (c *countingClient) SubmitDetailedEvent(ctx context.Context, ev event.RemoteDetailedEvent) error {
	return nil
}

func (c *countingClient) FetchSnapshot(ctx context.Context) (*remote.Snapshot, error) {
	c.snapshotFetches++
	if c.fail {
		return nil, errors.New("backend unavailable")
	}
	return &remote.Snapshot{}, nil
}

func (c *countingClient) FetchEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteEvent, error) {
	c.eventFetches++
	return []event.RemoteEvent{{ID: "e1"}}, nil
}

func (c *countingClient) FetchDetailedEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteDetailedEvent, error) {
	return nil, nil
}

func (c *countingClient) AlertsByUrgency(ctx context.Context, urgency remote.Urgency) ([]remote.Recommendation, error) {
	c.alertFetches++
	return []remote.Recommendation{{Title: string(urgency)}}, nil
}

func (c *countingClient) SubmitRecommendation(ctx context.Context, rec remote.Recommendation) error {
	return nil
}

func TestSnapshotCachedUntilInvalidated(t *testing.T) {
	client := &countingClient{}
	cache := NewCache(client, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Snapshot(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if client.snapshotFetches != 1 {
		t.Errorf("fetches = %d, want 1", client.snapshotFetches)
	}

	cache.Invalidate()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if client.snapshotFetches != 2 {
		t.Errorf("fetches after invalidate = %d, want 2", client.snapshotFetches)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	client := &countingClient{fail: true}
	cache := NewCache(client, nil)
	ctx := context.Background()

	if _, err := cache.Snapshot(ctx); err == nil {
		t.Fatal("expected fetch error")
	}

	client.fail = false
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if client.snapshotFetches != 2 {
		t.Errorf("fetches = %d, want 2", client.snapshotFetches)
	}
}

func TestAlertsCachedPerUrgency(t *testing.T) {
	client := &countingClient{}
	cache := NewCache(client, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.Alerts(ctx, remote.UrgencyHigh); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := cache.Alerts(ctx, remote.UrgencyLow); err != nil {
		t.Fatal(err)
	}
	if client.alertFetches != 2 {
		t.Errorf("fetches = %d, want one per urgency", client.alertFetches)
	}
}

func TestEventsCached(t *testing.T) {
	client := &countingClient{}
	cache := NewCache(client, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		events, err := cache.Events(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 {
			t.Fatalf("events = %+v", events)
		}
	}
	if client.eventFetches != 1 {
		t.Errorf("fetches = %d, want 1", client.eventFetches)
	}

	// Filtered reads always hit the backend.
	filter := &event.UsageContext{Kind: event.KindWork}
	if _, err := cache.EventsByContext(ctx, filter); err != nil {
		t.Fatal(err)
	}
	if client.eventFetches != 2 {
		t.Errorf("filtered fetch not passed through: %d", client.eventFetches)
	}
}

func TestBindStoreInvalidatesOnAppend(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "lifetrack.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	client := &countingClient{}
	cache := NewCache(client, nil)
	cancel := cache.BindStore(s)
	defer cancel()

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}

	ev := event.DetailedEvent{Event: event.Event{ID: "e1", Timestamp: 1, EventType: "page_enter", Source: event.SourceApp}}
	if err := s.AppendEvent("principal-a", ev); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if client.snapshotFetches != 2 {
		t.Errorf("append did not invalidate: fetches = %d", client.snapshotFetches)
	}
}
