// Package registry tracks live connections and the identity bound to each.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/transport"
)

// Connection is a snapshot of a registered connection.
type Connection struct {
	ID          collab.ConnectionID
	Identity    collab.Identity
	Room        *collab.RoomKey
	ConnectedAt time.Time
	LastSeen    time.Time
	Transport   transport.Transport
}

// InRoom reports whether the connection currently belongs to key.
func (c Connection) InRoom(key collab.RoomKey) bool {
	return c.Room != nil && *c.Room == key
}

// DepartureHook runs while a connection is being removed, before its entry
// is erased. Resolve already fails for the departing id when the hook runs.
type DepartureHook func(conn Connection)

type entry struct {
	conn     Connection
	removing bool
}

// Registry maps connection ids to connections. Each Registry is independent;
// several may coexist in one process.
type Registry struct {
	mu       sync.RWMutex
	conns    map[collab.ConnectionID]*entry
	newID    func() string
	now      func() time.Time
	onDepart DepartureHook
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides connection id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithDepartureHook sets the hook run on removal.
func WithDepartureHook(hook DepartureHook) Option {
	return func(r *Registry) { r.onDepart = hook }
}

// New creates an empty registry.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		conns: make(map[collab.ConnectionID]*entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newID == nil {
		gen, err := nanoid.Standard(21)
		if err != nil {
			return nil, fmt.Errorf("failed to create id generator: %w", err)
		}
		r.newID = gen
	}
	return r, nil
}

// SetDepartureHook replaces the departure hook. It must be called before the
// registry is shared between goroutines.
func (r *Registry) SetDepartureHook(hook DepartureHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDepart = hook
}

// Admit registers a new connection for an already verified identity. The
// connection starts with no room.
func (r *Registry) Admit(identity collab.Identity, t transport.Transport) (collab.ConnectionID, error) {
	if identity.UserID == "" || identity.UserName == "" || identity.UserRole == "" || identity.EstablishmentID == "" {
		return "", collab.ErrIdentityInvalid
	}
	if t == nil {
		return "", fmt.Errorf("%w: nil transport", collab.ErrTransport)
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	id := collab.ConnectionID(r.newID())
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = collab.ConnectionID(r.newID())
	}
	r.conns[id] = &entry{conn: Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: now,
		LastSeen:    now,
		Transport:   t,
	}}
	return id, nil
}

// Resolve returns the connection for id. It fails with
// collab.ErrUnknownConnection if id was never admitted, was removed or is
// being removed.
func (r *Registry) Resolve(id collab.ConnectionID) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok || e.removing {
		return Connection{}, collab.ErrUnknownConnection
	}
	return e.conn, nil
}

// Remove deregisters id and closes its transport normally. See RemoveWith.
func (r *Registry) Remove(id collab.ConnectionID) bool {
	return r.RemoveWith(id, transport.CloseNormal)
}

// RemoveWith deregisters id. The departure hook runs before the entry is
// erased, then the transport is closed with reason. RemoveWith is idempotent
// and reports whether this call performed the removal.
func (r *Registry) RemoveWith(id collab.ConnectionID, reason transport.CloseReason) bool {
	_, ok := r.remove(id, reason, nil)
	return ok
}

// RemoveIdle removes id only if it was last seen before cutoff. The check and
// the removal happen under one lock, so a liveness signal that lands first
// keeps the connection. It returns the removed connection.
func (r *Registry) RemoveIdle(id collab.ConnectionID, cutoff time.Time, reason transport.CloseReason) (Connection, bool) {
	return r.remove(id, reason, func(c Connection) bool {
		return c.LastSeen.Before(cutoff)
	})
}

func (r *Registry) remove(id collab.ConnectionID, reason transport.CloseReason, when func(Connection) bool) (Connection, bool) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok || e.removing || (when != nil && !when(e.conn)) {
		r.mu.Unlock()
		return Connection{}, false
	}
	e.removing = true
	conn := e.conn
	hook := r.onDepart
	r.mu.Unlock()

	if hook != nil {
		hook(conn)
	}

	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()

	_ = conn.Transport.CloseWith(reason)
	return conn, true
}

// Touch records a liveness signal for id.
func (r *Registry) Touch(id collab.ConnectionID) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok || e.removing {
		return false
	}
	e.conn.LastSeen = now
	return true
}

// SetRoom sets the current room of id; nil clears it. Departing connections
// may still be updated so that the departure hook can clear their room.
func (r *Registry) SetRoom(id collab.ConnectionID, key *collab.RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return collab.ErrUnknownConnection
	}
	if key == nil {
		e.conn.Room = nil
		return nil
	}
	k := *key
	e.conn.Room = &k
	return nil
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.conns {
		if !e.removing {
			n++
		}
	}
	return n
}

// Stale returns the ids of live connections last seen before cutoff, oldest
// first.
func (r *Registry) Stale(cutoff time.Time) []collab.ConnectionID {
	r.mu.RLock()
	stale := make([]Connection, 0)
	for _, e := range r.conns {
		if !e.removing && e.conn.LastSeen.Before(cutoff) {
			stale = append(stale, e.conn)
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastSeen.Before(stale[j].LastSeen)
	})
	ids := make([]collab.ConnectionID, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	return ids
}

// Stats returns connection counts per transport kind.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int)
	for _, e := range r.conns {
		if e.removing {
			continue
		}
		stats[e.conn.Transport.Kind()]++
	}
	return stats
}
