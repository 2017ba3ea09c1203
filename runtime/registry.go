// Package runtime holds the live connection groups and delivers events to them.
// It contains no persistence and no domain rules beyond presence.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry owns every live group: presence rooms and private conversation groups.
// Groups are created on first use and dropped once their last connection leaves.
type Registry struct {
	mu          sync.Mutex
	rooms       map[domain.RoomName]*Room
	log         *slog.Logger
	sinkTimeout time.Duration
	metrics     *observability.Metrics
}

func NewRegistry(log *slog.Logger, sinkTimeout time.Duration, metrics *observability.Metrics) *Registry {
	return &Registry{
		rooms:       make(map[domain.RoomName]*Room),
		log:         log,
		sinkTimeout: sinkTimeout,
		metrics:     metrics,
	}
}

// acquire returns the room, creating it if needed, and pins it until release.
func (r *Registry) acquire(name domain.RoomName) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		room = newRoom(name, r.log, r.sinkTimeout)
		r.rooms[name] = room
		r.log.Debug("Room created", "room", name)
	}
	room.refs++
	return room
}

// release unpins the room and drops it if nobody is connected.
func (r *Registry) release(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room.refs--
	if room.refs == 0 && room.empty() && r.rooms[room.name] == room {
		delete(r.rooms, room.name)
		r.log.Debug("Room released", "room", room.name)
	}
}

func (r *Registry) lookup(name domain.RoomName) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Join enters a presence room. The joiner receives user_list; the other members
// receive user_join only if the identity was not already present.
// Joining twice with the same connection id changes nothing. It returns the online count.
func (r *Registry) Join(ctx context.Context, name domain.RoomName, connID string, identity domain.Identity, sink contract.EventSink) (int, error) {
	if identity.IsAnonymous() {
		return 0, errors.ErrAnonymous
	}
	room := r.acquire(name)
	defer r.release(room)
	count, dropped := room.join(ctx, connID, identity, sink)
	r.metrics.DeliveryDropped(ctx, dropped)
	return count, nil
}

// Leave exits a presence room. Leaving a room the connection is not in is a no-op.
func (r *Registry) Leave(ctx context.Context, name domain.RoomName, connID string) {
	room, ok := r.lookup(name)
	if !ok {
		return
	}
	room = r.acquire(name)
	defer r.release(room)
	dropped, _ := room.leave(ctx, connID)
	r.metrics.DeliveryDropped(ctx, dropped)
}

// Subscribe adds a connection to a group without presence events.
func (r *Registry) Subscribe(name domain.RoomName, connID string, identity domain.Identity, sink contract.EventSink) {
	room := r.acquire(name)
	defer r.release(room)
	room.subscribe(connID, identity, sink)
}

func (r *Registry) Unsubscribe(name domain.RoomName, connID string) {
	if _, ok := r.lookup(name); !ok {
		return
	}
	room := r.acquire(name)
	defer r.release(room)
	room.unsubscribe(connID)
}

// Broadcast delivers e to every connection of the group.
// A group with no connection receives nothing.
func (r *Registry) Broadcast(ctx context.Context, name domain.RoomName, e event.DomainEvent) int {
	room, ok := r.lookup(name)
	if !ok {
		return 0
	}
	delivered, dropped := room.Broadcast(ctx, e)
	r.metrics.DeliveryDropped(ctx, dropped)
	return delivered
}

// Roster lists the identities present in a room.
func (r *Registry) Roster(name domain.RoomName) []domain.Identity {
	room, ok := r.lookup(name)
	if !ok {
		return []domain.Identity{}
	}
	return room.Roster()
}

// Rooms reports how many groups are live.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
