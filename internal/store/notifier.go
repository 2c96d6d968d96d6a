package store

import "sync"

// Topic identifies a class of store mutation for subscribers.
type Topic string

// Mutation topics.
const (
	TopicEvents  Topic = "events"
	TopicSession Topic = "session"
	TopicContext Topic = "context"
	TopicPrefs   Topic = "prefs"
)

type subscriber struct {
	topics map[Topic]bool // empty = all topics
	fn     func(Topic)
}

// Notifier fans out mutation notifications to registered readers, replacing
// interval polling over the store. Callbacks run synchronously on the
// mutating goroutine and must not block.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*subscriber)}
}

// Subscribe registers a callback for the given topics (all topics when none
// are given). The returned function cancels the subscription.
func (n *Notifier) Subscribe(fn func(Topic), topics ...Topic) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &subscriber{topics: make(map[Topic]bool), fn: fn}
	for _, t := range topics {
		sub.topics[t] = true
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = sub

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Publish notifies all subscribers interested in the topic.
func (n *Notifier) Publish(topic Topic) {
	n.mu.Lock()
	var fns []func(Topic)
	for _, sub := range n.subs {
		if len(sub.topics) == 0 || sub.topics[topic] {
			fns = append(fns, sub.fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(topic)
	}
}
