// Package router accepts application messages from room members, persists
// the durable ones and fans them out to the rest of the room.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/fanout"
	"github.com/example/collab-realtime/modules/registry"
	"github.com/example/collab-realtime/modules/transport"
)

// Persister durably records messages. Append must return only after the
// message is stored.
type Persister interface {
	Append(ctx context.Context, msg collab.Message) error
}

// Members is the room membership the router checks and fans out to.
type Members interface {
	IsMember(key collab.RoomKey, id collab.ConnectionID) bool
	MembersOf(key collab.RoomKey) []collab.ConnectionID
	MarkActivity(key collab.RoomKey, at time.Time)
}

// Ephemeral relays broadcast-only state such as cursors and typing flags.
type Ephemeral interface {
	Relay(sender registry.Connection, msg collab.Message) (fanout.Result, error)
}

// StaleHandler is called, outside any room lane, for members found in a
// room whose connection is gone.
type StaleHandler func(key collab.RoomKey, id collab.ConnectionID)

// AcceptHook is called after a message was accepted and fanned out.
type AcceptHook func(msg collab.Message, res fanout.Result)

type lane struct {
	mu   sync.Mutex
	refs int
}

// Router is the single ingestion point for application messages. Messages
// for one room pass through one lane, so every member observes the same
// relative order and the persisted order equals the acceptance order.
type Router struct {
	conns     fanout.Resolver
	rooms     Members
	persister Persister
	ephemeral Ephemeral
	logger    types.Logger

	now      func() time.Time
	newID    func() string
	onStale  StaleHandler
	onAccept AcceptHook

	lanesMu sync.Mutex
	lanes   map[collab.RoomKey]*lane
}

// Option configures a Router.
type Option func(*Router)

// WithEphemeral routes cursor and typing messages through e.
func WithEphemeral(e Ephemeral) Option {
	return func(r *Router) { r.ephemeral = e }
}

// WithStaleHandler sets the handler for stale members.
func WithStaleHandler(h StaleHandler) Option {
	return func(r *Router) { r.onStale = h }
}

// WithAcceptHook sets the hook run after each accepted message.
func WithAcceptHook(h AcceptHook) Option {
	return func(r *Router) { r.onAccept = h }
}

// WithClock overrides the server clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Router) { r.newID = gen }
}

// New creates a router.
func New(conns fanout.Resolver, rooms Members, persister Persister, logger types.Logger, opts ...Option) *Router {
	r := &Router{
		conns:     conns,
		rooms:     rooms,
		persister: persister,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		lanes:     make(map[collab.RoomKey]*lane),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch validates, stamps, persists and fans out msg on behalf of connID.
// Room, Type and Payload are taken from msg; every other field is set by the
// server. The accepted message is returned.
func (r *Router) Dispatch(ctx context.Context, connID collab.ConnectionID, msg collab.Message) (collab.Message, error) {
	sender, err := r.conns.Resolve(connID)
	if err != nil {
		return collab.Message{}, fmt.Errorf("%w: %w", collab.ErrUnauthenticated, err)
	}
	if !msg.Type.Routable() {
		return collab.Message{}, fmt.Errorf("%w: type %q cannot be routed", collab.ErrInvalidMessage, msg.Type)
	}
	if !r.rooms.IsMember(msg.Room, connID) {
		return collab.Message{}, collab.ErrNotInRoom
	}

	msg.SenderID = sender.ID
	msg.Sender = sender.Identity

	var res fanout.Result
	if msg.Type.Ephemeral() && r.ephemeral != nil {
		msg.ID = ""
		msg.CreatedAt = r.now().UTC()
		res, err = r.ephemeral.Relay(sender, msg)
		if err != nil {
			return collab.Message{}, err
		}
	} else {
		msg, res, err = r.accept(ctx, sender, msg)
		if err != nil {
			return collab.Message{}, err
		}
	}

	r.rooms.MarkActivity(msg.Room, msg.CreatedAt)
	r.report(msg, res)
	if r.onAccept != nil {
		r.onAccept(msg, res)
	}
	return msg, nil
}

// accept runs the ordered part of dispatch inside the room lane.
func (r *Router) accept(ctx context.Context, sender registry.Connection, msg collab.Message) (collab.Message, fanout.Result, error) {
	l := r.acquire(msg.Room)
	defer r.release(msg.Room, l)

	msg.CreatedAt = r.now().UTC()
	if msg.Type.Persistable() {
		msg.ID = r.newID()
		if err := r.persister.Append(ctx, msg); err != nil {
			return collab.Message{}, fanout.Result{}, fmt.Errorf("%w: %w", collab.ErrPersistence, err)
		}
	}

	data, err := fanout.Enrich(msg.Payload, msg.ID, sender.Identity, sender.ID)
	if err != nil {
		return collab.Message{}, fanout.Result{}, err
	}
	env := collab.Envelope{Type: msg.Type, RoomID: msg.Room.String(), Data: data}.Stamped(msg.CreatedAt)
	res := fanout.Deliver(r.conns, r.rooms.MembersOf(msg.Room), sender.ID, env, transport.ClassOf(msg.Type))
	return msg, res, nil
}

func (r *Router) report(msg collab.Message, res fanout.Result) {
	if len(res.Dropped) > 0 || len(res.Failed) > 0 {
		r.logger.Warn("Fan-out incomplete",
			"roomID", msg.Room.String(),
			"type", string(msg.Type),
			"delivered", res.Delivered,
			"dropped", res.Dropped,
			"failed", res.Failed)
	}
	for _, id := range res.Stale {
		r.logger.Info("Removing stale room member", "roomID", msg.Room.String(), "connectionID", id)
		if r.onStale != nil {
			r.onStale(msg.Room, id)
		}
	}
}

func (r *Router) acquire(key collab.RoomKey) *lane {
	r.lanesMu.Lock()
	l, ok := r.lanes[key]
	if !ok {
		l = &lane{}
		r.lanes[key] = l
	}
	l.refs++
	r.lanesMu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Router) release(key collab.RoomKey, l *lane) {
	l.mu.Unlock()

	r.lanesMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.lanes, key)
	}
	r.lanesMu.Unlock()
}

// ActiveLanes returns the number of rooms with messages in flight.
func (r *Router) ActiveLanes() int {
	r.lanesMu.Lock()
	defer r.lanesMu.Unlock()
	return len(r.lanes)
}
