package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
)

var ErrHubClosed = errors.New("hub closed")

// Subscriber is one live real-time connection. Send may block on I/O and is
// never called with the hub lock held. Implementations must tolerate Close
// being called concurrently with Send.
type Subscriber interface {
	ID() string
	Send(msg string) error
	Close(reason string) error
}

type Hub struct {
	mu          sync.Mutex
	subscribers map[Subscriber]struct{}
	closed      bool

	metrics *metrics.HubMetrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.HubMetrics) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]struct{}),
		metrics:     m,
	}
}

// Connect registers sub. It fails only after Close.
func (h *Hub) Connect(sub Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.subscribers[sub] = struct{}{}
	h.setGauge(len(h.subscribers))
	return nil
}

// Disconnect removes sub. Removing an absent subscriber is a no-op.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers, sub)
	h.setGauge(len(h.subscribers))
}

// Broadcast sends msg once to every subscriber connected when the call
// started. Subscribers whose send fails are removed and closed; failures are
// never reported to the caller.
func (h *Hub) Broadcast(msg string) {
	h.mu.Lock()
	snapshot := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	var failed []Subscriber
	for _, sub := range snapshot {
		if err := sub.Send(msg); err != nil {
			slog.Debug("broadcast delivery failed", "subscriber", sub.ID(), "error", err)
			failed = append(failed, sub)
			continue
		}
		if h.metrics != nil {
			h.metrics.MessagesSent.Inc()
		}
	}

	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, sub := range failed {
		delete(h.subscribers, sub)
	}
	h.setGauge(len(h.subscribers))
	h.mu.Unlock()

	for _, sub := range failed {
		if h.metrics != nil {
			h.metrics.DeliveryFailures.Inc()
		}
		_ = sub.Close("delivery failed")
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects and closes every subscriber and rejects later connects.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	clear(h.subscribers)
	h.setGauge(0)
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close("server shutting down")
	}
	slog.Info("hub closed", "subscribers", len(subs))
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(n))
	}
}
