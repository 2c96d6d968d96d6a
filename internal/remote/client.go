package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lifetrackd/internal/event"
	"lifetrackd/internal/logging"
)

// Client errors.
var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrBadStatus    = errors.New("remote: unexpected status")
	ErrBadSnapshot  = errors.New("remote: snapshot failed validation")
)

// Client is the backend contract the core consumes. All calls carry the
// caller's deadline through ctx; implementations must not retry.
type Client interface {
	SubmitEvent(ctx context.Context, ev event.RemoteEvent) error
	SubmitDetailedEvent(ctx context.Context, ev event.RemoteDetailedEvent) error
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
	FetchEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteEvent, error)
	FetchDetailedEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteDetailedEvent, error)
	AlertsByUrgency(ctx context.Context, urgency Urgency) ([]Recommendation, error)
	SubmitRecommendation(ctx context.Context, rec Recommendation) error
}

// snapshotSchema guards FetchSnapshot decodes: a response missing any of the
// four aggregate collections is rejected before it reaches consumers.
const snapshotSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events", "detailedEvents", "patterns", "recommendations"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "timestamp", "eventType", "source"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "timestamp": {"type": "integer"},
          "eventType": {"type": "string"},
          "duration": {"type": "integer"},
          "source": {"enum": ["app", "browser"]}
        }
      }
    },
    "detailedEvents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "timestamp", "eventType", "source"]
      }
    },
    "patterns": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["context", "averageDuration", "frequency"]
      }
    },
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "message", "urgencyLevel"],
        "properties": {
          "urgencyLevel": {"enum": ["low", "medium", "high"]},
          "confidenceScore": {"type": "integer", "minimum": 0, "maximum": 100}
        }
      }
    }
  }
}`

var snapshotSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchemaJSON)

// HTTPClient talks JSON over HTTP with bearer-token auth.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// NewHTTPClient creates a client for the backend at baseURL. The token is
// the caller's identity credential and is attached to every request.
func NewHTTPClient(baseURL, token string, log *logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.WithComponent("remote"),
	}
}

// SubmitEvent pushes one event to the ingestion endpoint.
func (c *HTTPClient) SubmitEvent(ctx context.Context, ev event.RemoteEvent) error {
	return c.post(ctx, "/api/v1/events", ev)
}

// SubmitDetailedEvent pushes one detailed event to the ingestion endpoint.
func (c *HTTPClient) SubmitDetailedEvent(ctx context.Context, ev event.RemoteDetailedEvent) error {
	return c.post(ctx, "/api/v1/events/detailed", ev)
}

// FetchSnapshot returns the backend's aggregate view. The response is
// validated against the snapshot schema before decoding; an invalid payload
// is a fetch error, never a partial decode.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	body, err := c.get(ctx, "/api/v1/snapshot", nil)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if err := snapshotSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return &snap, nil
}

// FetchEvents returns remote events, optionally filtered by context kind.
func (c *HTTPClient) FetchEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteEvent, error) {
	body, err := c.get(ctx, "/api/v1/events", contextQuery(filter))
	if err != nil {
		return nil, err
	}

	var events []event.RemoteEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// FetchDetailedEvents returns remote detailed events, optionally filtered
// by context kind.
func (c *HTTPClient) FetchDetailedEvents(ctx context.Context, filter *event.UsageContext) ([]event.RemoteDetailedEvent, error) {
	body, err := c.get(ctx, "/api/v1/events/detailed", contextQuery(filter))
	if err != nil {
		return nil, err
	}

	var events []event.RemoteDetailedEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode detailed events: %w", err)
	}
	return events, nil
}

// AlertsByUrgency returns the backend's recommendations at one urgency.
func (c *HTTPClient) AlertsByUrgency(ctx context.Context, urgency Urgency) ([]Recommendation, error) {
	body, err := c.get(ctx, "/api/v1/alerts", url.Values{"urgency": {string(urgency)}})
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	if err := json.Unmarshal(body, &recs); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return recs, nil
}

// SubmitRecommendation pushes a locally-derived recommendation upstream.
func (c *HTTPClient) SubmitRecommendation(ctx context.Context, rec Recommendation) error {
	return c.post(ctx, "/api/v1/recommendations", rec)
}

func contextQuery(filter *event.UsageContext) url.Values {
	if filter == nil {
		return nil
	}
	q := url.Values{"context": {filter.Kind}}
	if filter.Other != "" {
		q.Set("other", filter.Other)
	}
	return q
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return c.checkStatus(path, resp.StatusCode)
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(path, resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *HTTPClient) checkStatus(path string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, path, status)
	case status < 200 || status > 299:
		return fmt.Errorf("%w: %s returned %d", ErrBadStatus, path, status)
	}
	return nil
}
