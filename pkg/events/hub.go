package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Subscriber receives marshaled events for one connected client. Enqueue
// must not block; it reports false when the event was not accepted (queue
// full or subscriber closing).
type Subscriber interface {
	ID() string
	Enqueue(data []byte) bool
}

// Hub fans events out to every live session of an aide. Events for one
// subscriber arrive in broadcast order; the hub marshals each event once.
type Hub struct {
	mu     sync.RWMutex
	aides  map[string]map[string]Subscriber
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		aides:  make(map[string]map[string]Subscriber),
		logger: logger,
	}
}

// Subscribe registers a subscriber under an aide.
func (h *Hub) Subscribe(aideID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.aides[aideID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.aides[aideID] = subs
	}
	subs[sub.ID()] = sub
}

// Unsubscribe removes a subscriber. Safe to call twice.
func (h *Hub) Unsubscribe(aideID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.aides[aideID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.aides, aideID)
	}
}

// Broadcast marshals event once and enqueues it to every subscriber of the
// aide. Subscribers are snapshotted under the lock and fed outside it so a
// slow Enqueue implementation cannot stall subscribe/unsubscribe.
func (h *Hub) Broadcast(aideID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal outbound event", "aide_id", aideID, "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.aides[aideID]))
	for _, sub := range h.aides[aideID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Enqueue(data) {
			h.logger.Warn("Dropped outbound event for slow session",
				"aide_id", aideID, "session_id", sub.ID())
		}
	}
}

// Subscribers returns the number of live sessions for an aide.
func (h *Hub) Subscribers(aideID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.aides[aideID])
}

// ActiveSessions returns the total number of live sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, subs := range h.aides {
		total += len(subs)
	}
	return total
}
