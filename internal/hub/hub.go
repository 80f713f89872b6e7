// Package hub fans broadcast messages out to connected subscribers.
package hub

import (
	"sync"

	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/metrics"
	"github.com/vdetect/streamguard/pkg/types"
)

// Subscriber receives broadcast messages. Send must not block forever; a
// failing subscriber is evicted, never awaited.
type Subscriber interface {
	ID() string
	Send(msg types.Message) error
	Close() error
}

// Hub maintains the live set of subscribers.
type Hub struct {
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[string]Subscriber
}

// New creates an empty hub.
func New(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		subs:    make(map[string]Subscriber),
	}
}

// Connect adds a subscriber to the live set. Idempotent per id.
func (h *Hub) Connect(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.updateGauge(n)
	logger.Info("Hub", "Subscriber %s connected (total: %d)", s.ID(), n)
}

// Disconnect removes and closes a subscriber. Idempotent.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = s.Close()
	h.updateGauge(n)
	logger.Info("Hub", "Subscriber %s disconnected (total: %d)", id, n)
}

// Broadcast delivers the message to every subscriber, best-effort. A
// send failure evicts only the failing subscriber; delivery continues to
// the rest.
func (h *Hub) Broadcast(msg types.Message) {
	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			logger.Warn("Hub", "Send to %s failed, evicting: %v", s.ID(), err)
			if h.metrics != nil {
				h.metrics.BroadcastErrors.Add(1)
			}
			h.Disconnect(s.ID())
		}
	}
}

// Count reports the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// CloseAll disconnects every subscriber; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	h.updateGauge(0)
}

func (h *Hub) updateGauge(n int) {
	if h.metrics != nil {
		h.metrics.Subscribers.Store(uint64(n))
	}
}
