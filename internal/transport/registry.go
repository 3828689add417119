package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"classhub/pkg/types"
)

// Registry is the process-wide connection manager: it tracks every live
// connection by identity, groups identities into rooms, and provides
// the delivery primitives room channels are built on.
//
// Join, Leave and CountMembers all run under one lock, so membership
// updates are linearizable. A count observed by a caller may of course
// be stale by the time it acts on it.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*Conn            // identity -> Conn
	rooms      map[string]map[string]*Conn // roomKey -> identity -> Conn
	closed     bool
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		identities: make(map[string]*Conn),
		rooms:      make(map[string]map[string]*Conn),
		logger:     logger.With("component", "transport"),
	}
}

// Register adds a connection to the identity table. A connection
// already registered under the same identity is replaced; the old one
// is closed asynchronously to avoid holding the lock across Close.
func (r *Registry) Register(conn *Conn) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	if existing, ok := r.identities[conn.identity]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Warn("failed to close replaced connection",
					"identity", conn.identity, "error", err)
			}
		}()
	}

	r.identities[conn.identity] = conn
	return nil
}

// Unregister removes a connection from the identity table and from
// every room it joined. Idempotent; only the exact registered instance
// is removed, so a stale connection cannot evict its replacement.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.identities[conn.identity]
	if !ok || registered != conn {
		return
	}

	delete(r.identities, conn.identity)
	for roomKey, members := range r.rooms {
		if members[conn.identity] == conn {
			delete(members, conn.identity)
			if len(members) == 0 {
				delete(r.rooms, roomKey)
			}
		}
	}
}

// Join adds a registered identity to a room.
func (r *Registry) Join(identity, roomKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	conn, ok := r.identities[identity]
	if !ok {
		return ErrUnknownIdentity
	}

	if r.rooms[roomKey] == nil {
		r.rooms[roomKey] = make(map[string]*Conn)
	}
	r.rooms[roomKey][identity] = conn
	return nil
}

// Leave removes an identity from a room. Idempotent.
func (r *Registry) Leave(identity, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[roomKey]; ok {
		delete(members, identity)
		if len(members) == 0 {
			delete(r.rooms, roomKey)
		}
	}
}

// EmitTo delivers an event to one identity, but only while it is a
// member of the given room. Returns ErrNotMember otherwise.
func (r *Registry) EmitTo(ctx context.Context, roomKey, identity, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRegistryClosed
	}
	conn, ok := r.rooms[roomKey][identity]
	r.mu.RUnlock()

	if !ok {
		return ErrNotMember
	}
	return conn.WriteJSON(envelope(roomKey, event, payload))
}

// EmitToRoom delivers an event to every current member of a room.
// Per-member delivery failures are logged and never abort the rest.
func (r *Registry) EmitToRoom(ctx context.Context, roomKey, event string, payload interface{}) error {
	return r.multicast(ctx, roomKey, "", event, payload)
}

// EmitToRoomExcept delivers an event to every member except the sender.
func (r *Registry) EmitToRoomExcept(ctx context.Context, roomKey, sender, event string, payload interface{}) error {
	return r.multicast(ctx, roomKey, sender, event, payload)
}

func (r *Registry) multicast(ctx context.Context, roomKey, except, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRegistryClosed
	}
	members := make([]*Conn, 0, len(r.rooms[roomKey]))
	for identity, conn := range r.rooms[roomKey] {
		if identity == except {
			continue
		}
		members = append(members, conn)
	}
	r.mu.RUnlock()

	msg := envelope(roomKey, event, payload)
	for _, conn := range members {
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.Debug("dropped room delivery",
				"room", roomKey, "identity", conn.identity, "event", event, "error", err)
		}
	}
	return nil
}

// CountMembers returns the number of distinct identities currently in
// the room. Fails only when the registry is shut down or the context
// expires.
func (r *Registry) CountMembers(ctx context.Context, roomKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrRegistryClosed
	}
	return len(r.rooms[roomKey]), nil
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections": len(r.identities),
		"rooms":       len(r.rooms),
	}
}

// Close marks the registry closed and closes every connection. Emits
// and counts fail with ErrRegistryClosed afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.identities))
	for _, conn := range r.identities {
		conns = append(conns, conn)
	}
	r.identities = make(map[string]*Conn)
	r.rooms = make(map[string]map[string]*Conn)
	r.closed = true
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func envelope(roomKey, event string, payload interface{}) types.Event {
	return types.Event{
		Name:      event,
		RoomKey:   roomKey,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
