package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultFeedSize is how many notifications the feed keeps.
	DefaultFeedSize = 25
	// DefaultMessage is used when a push carries no message.
	DefaultMessage = "New event received"
)

// Item is one entry of the notification feed.
type Item struct {
	ID        string
	EventType string
	Message   string
	Timestamp string
	Payload   json.RawMessage
}

// Feed is a bounded list of notifications, newest first. It is safe for
// concurrent use.
type Feed struct {
	mu    sync.Mutex
	items []Item
	max   int

	now   func() time.Time
	newID func() string
}

// NewFeed creates a feed holding at most max items; max <= 0 selects
// DefaultFeedSize.
func NewFeed(max int) *Feed {
	if max <= 0 {
		max = DefaultFeedSize
	}
	return &Feed{max: max, now: time.Now, newID: uuid.NewString}
}

// Add records ev at the head of the feed, evicting the oldest entry when
// full, and returns the new item.
func (f *Feed) Add(ev Event) Item {
	env := ev.Envelope()
	it := Item{
		EventType: ev.Label(),
		Message:   env.Message,
		Timestamp: env.Timestamp,
		Payload:   env.Raw,
	}
	if it.Message == "" {
		it.Message = DefaultMessage
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	it.ID = f.newID()
	if it.Timestamp == "" {
		it.Timestamp = f.now().UTC().Format(time.RFC3339)
	}

	next := make([]Item, 0, min(len(f.items)+1, f.max))
	next = append(next, it)
	for _, old := range f.items {
		if len(next) == f.max {
			break
		}
		next = append(next, old)
	}
	f.items = next
	return it
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the number of items.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Clear empties the feed.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}

// Handler adapts the feed to a router handler.
func (f *Feed) Handler() Handler {
	return func(ev Event) error {
		f.Add(ev)
		return nil
	}
}
