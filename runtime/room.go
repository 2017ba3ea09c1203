package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

type member struct {
	identity domain.Identity
	sink     contract.EventSink
}

// Room is a named group of live connections.
// members is keyed by connection id and roster counts the open connections of
// each identity, so an identity holding several connections is listed once.
type Room struct {
	name    domain.RoomName
	log     *slog.Logger
	timeout time.Duration

	// order serializes presence changes and broadcasts so every member sees
	// events in the same sequence.
	order sync.Mutex
	refs  int

	mu      sync.RWMutex
	members map[string]member
	roster  map[domain.IdentityID]int
	names   map[domain.IdentityID]domain.Identity
}

func newRoom(name domain.RoomName, log *slog.Logger, timeout time.Duration) *Room {
	return &Room{
		name:    name,
		log:     log,
		timeout: timeout,
		members: make(map[string]member),
		roster:  make(map[domain.IdentityID]int),
		names:   make(map[domain.IdentityID]domain.Identity),
	}
}

func (r *Room) Name() domain.RoomName { return r.name }

// add registers a connection and reports whether its identity is new to the roster.
// Adding a connection id twice is a no-op.
func (r *Room) add(connID string, identity domain.Identity, sink contract.EventSink) (entered bool, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[connID]; ok {
		return false, false
	}
	r.members[connID] = member{identity: identity, sink: sink}
	r.roster[identity.ID]++
	r.names[identity.ID] = identity
	return r.roster[identity.ID] == 1, true
}

// remove drops a connection and reports whether its identity left the roster.
func (r *Room) remove(connID string) (identity domain.Identity, left bool, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok {
		return domain.Identity{}, false, false
	}
	delete(r.members, connID)
	r.roster[m.identity.ID]--
	if r.roster[m.identity.ID] > 0 {
		return m.identity, false, true
	}
	delete(r.roster, m.identity.ID)
	delete(r.names, m.identity.ID)
	return m.identity, true, true
}

// Roster lists the distinct identities present, ordered by id.
func (r *Room) Roster() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roster := lo.Values(r.names)
	slices.SortFunc(roster, func(a, b domain.Identity) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return roster
}

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roster)
}

func (r *Room) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) empty() bool {
	return r.Connections() == 0
}

// sinks snapshots the subscribers, optionally leaving one connection out.
func (r *Room) sinks(except string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sinks := make([]contract.EventSink, 0, len(r.members))
	for id, m := range r.members {
		if id == except {
			continue
		}
		sinks = append(sinks, m.sink)
	}
	return sinks
}

// Broadcast delivers e to every connection.
// It returns how many sinks accepted it and how many were skipped.
func (r *Room) Broadcast(ctx context.Context, e event.DomainEvent) (int, int) {
	r.order.Lock()
	defer r.order.Unlock()
	sinks := r.sinks("")
	delivered := deliver(ctx, r.log, r.timeout, sinks, e)
	return delivered, len(sinks) - delivered
}

// join adds the connection, sends the roster to it and announces a new identity to the others.
// It returns the online count after the join and the number of undelivered events.
func (r *Room) join(ctx context.Context, connID string, identity domain.Identity, sink contract.EventSink) (int, int) {
	r.order.Lock()
	defer r.order.Unlock()
	entered, added := r.add(connID, identity, sink)
	if !added {
		return r.Count(), 0
	}
	dropped := 0
	if deliver(ctx, r.log, r.timeout, []contract.EventSink{sink}, event.NewUserList(r.name, r.Roster())) == 0 {
		dropped++
	}
	if entered {
		others := r.sinks(connID)
		dropped += len(others) - deliver(ctx, r.log, r.timeout, others, event.NewUserJoin(r.name, identity, r.Count()))
	}
	return r.Count(), dropped
}

// leave removes the connection and announces the identity once its last connection is gone.
func (r *Room) leave(ctx context.Context, connID string) (int, bool) {
	r.order.Lock()
	defer r.order.Unlock()
	identity, left, removed := r.remove(connID)
	if !removed || !left {
		return 0, removed
	}
	others := r.sinks("")
	return len(others) - deliver(ctx, r.log, r.timeout, others, event.NewUserLeave(r.name, identity, r.Count())), true
}

// subscribe and unsubscribe change membership without presence events.
func (r *Room) subscribe(connID string, identity domain.Identity, sink contract.EventSink) bool {
	r.order.Lock()
	defer r.order.Unlock()
	_, added := r.add(connID, identity, sink)
	return added
}

func (r *Room) unsubscribe(connID string) bool {
	r.order.Lock()
	defer r.order.Unlock()
	_, _, removed := r.remove(connID)
	return removed
}
