package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// join enters a room and returns the online count reported by the registry.
func join(t *testing.T, registry *Registry, ctx context.Context, name domain.RoomName, connID string,
	identity domain.Identity, sink contract.EventSink) int {
	t.Helper()
	count, err := registry.Join(ctx, name, connID, identity, sink)
	require.NoError(t, err)
	return count
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func (s *recordingSink) Types() []event.Type {
	var types []event.Type
	for _, e := range s.Events() {
		types = append(types, e.EventType())
	}
	return types
}

// blockingSink never accepts anything before its context expires.
type blockingSink struct{}

func (blockingSink) Consume(ctx context.Context, _ event.DomainEvent) error {
	<-ctx.Done()
	return fmt.Errorf("sink too slow: %w", ctx.Err())
}

const testTimeout = 20 * time.Millisecond
