package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotificationHub holds the notification connections of every identity.
// An identity may have several open connections; each receives every notification.
type NotificationHub struct {
	mu          sync.RWMutex
	channels    map[domain.IdentityID]map[string]contract.EventSink
	log         *slog.Logger
	sinkTimeout time.Duration
	metrics     *observability.Metrics
}

func NewNotificationHub(log *slog.Logger, sinkTimeout time.Duration, metrics *observability.Metrics) *NotificationHub {
	return &NotificationHub{
		channels:    make(map[domain.IdentityID]map[string]contract.EventSink),
		log:         log,
		sinkTimeout: sinkTimeout,
		metrics:     metrics,
	}
}

func (h *NotificationHub) Subscribe(id domain.IdentityID, connID string, sink contract.EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.channels[id]
	if !ok {
		conns = make(map[string]contract.EventSink)
		h.channels[id] = conns
	}
	conns[connID] = sink
}

func (h *NotificationHub) Unsubscribe(id domain.IdentityID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.channels[id]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.channels, id)
	}
}

// Notify pushes e to every connection of id. An identity with no open
// connection simply misses the event; unread counters keep the state.
func (h *NotificationHub) Notify(ctx context.Context, id domain.IdentityID, e event.DomainEvent) int {
	h.mu.RLock()
	sinks := make([]contract.EventSink, 0, len(h.channels[id]))
	for _, sink := range h.channels[id] {
		sinks = append(sinks, sink)
	}
	h.mu.RUnlock()

	delivered := deliver(ctx, h.log, h.sinkTimeout, sinks, e)
	h.metrics.DeliveryDropped(ctx, len(sinks)-delivered)
	return delivered
}

// Online reports whether id has at least one notification connection.
func (h *NotificationHub) Online(id domain.IdentityID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[id]) > 0
}
