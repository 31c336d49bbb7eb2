package common

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cryptorafts/platform/internal/logging"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// ChangeEvent describes one committed write to a document
type ChangeEvent struct {
	Type       ChangeType      `json:"type"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Origin     string          `json:"origin,omitempty"`
}

// ChangeHub fans document change events out to listeners of a collection
type ChangeHub interface {
	Publish(ctx context.Context, event ChangeEvent)
	// Subscribe returns a channel of events for collection and a cancel func
	// that unregisters the subscriber and closes the channel.
	Subscribe(collection string, buffer int) (<-chan ChangeEvent, func())
}

type hubSubscriber struct {
	collection string
	ch         chan ChangeEvent
}

// LocalChangeHub delivers events to subscribers inside this process
type LocalChangeHub struct {
	mu   sync.RWMutex
	subs map[int]*hubSubscriber
	next int
}

var _ ChangeHub = (*LocalChangeHub)(nil)

func NewLocalChangeHub() *LocalChangeHub {
	return &LocalChangeHub{subs: make(map[int]*hubSubscriber)}
}

func (h *LocalChangeHub) Subscribe(collection string, buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &hubSubscriber{collection: collection, ch: make(chan ChangeEvent, buffer)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (h *LocalChangeHub) Publish(_ context.Context, event ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.collection != event.Collection {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logging.Warn("Dropping change event for slow subscriber",
				"collection", event.Collection,
				"document_id", event.DocumentID,
				"type", event.Type,
			)
		}
	}
}

// Subscribers reports the number of live subscriptions
func (h *LocalChangeHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
