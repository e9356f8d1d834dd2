// Package presence announces joins and leaves and relays the ephemeral
// per-participant state of a room: typing flags and cursor positions.
package presence

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/fanout"
	"github.com/example/collab-realtime/modules/registry"
	"github.com/example/collab-realtime/modules/transport"
)

// Members lists the members of a room in join order.
type Members interface {
	MembersOf(key collab.RoomKey) []collab.ConnectionID
}

type cursor struct {
	position json.RawMessage
	at       time.Time
}

// Coordinator owns presence announcements and ephemeral room state. State is
// last-write-wins per connection per room and is never persisted.
type Coordinator struct {
	conns  fanout.Resolver
	rooms  Members
	logger types.Logger
	now    func() time.Time

	mu      sync.RWMutex
	typing  map[collab.RoomKey]map[collab.ConnectionID]time.Time
	cursors map[collab.RoomKey]map[collab.ConnectionID]cursor
}

// NewCoordinator creates a coordinator over the given registry and room
// membership.
func NewCoordinator(conns fanout.Resolver, rooms Members, logger types.Logger) *Coordinator {
	return &Coordinator{
		conns:   conns,
		rooms:   rooms,
		logger:  logger,
		now:     time.Now,
		typing:  make(map[collab.RoomKey]map[collab.ConnectionID]time.Time),
		cursors: make(map[collab.RoomKey]map[collab.ConnectionID]cursor),
	}
}

// AnnounceJoin tells the joiner who is already in the room and tells everyone
// else about the joiner. others must exclude the joiner.
func (c *Coordinator) AnnounceJoin(key collab.RoomKey, joiner collab.Participant, others []collab.Participant) error {
	now := c.now()
	if others == nil {
		others = []collab.Participant{}
	}

	joined, err := collab.NewEnvelope(collab.TypeRoomJoined, key.String(), collab.RoomJoinedData{
		RoomID:       key.String(),
		Participants: others,
	})
	if err != nil {
		return err
	}
	conn, err := c.conns.Resolve(joiner.ConnectionID)
	if err != nil {
		return err
	}
	if err := conn.Transport.Send(joined.Stamped(now), transport.ClassControl); err != nil {
		return fmt.Errorf("failed to send room_joined: %w", err)
	}

	announce, err := collab.NewEnvelope(collab.TypeUserJoined, key.String(), collab.UserJoinedData{
		ConnectionID: joiner.ConnectionID,
		User:         joiner.User,
		JoinedAt:     joiner.JoinedAt,
	})
	if err != nil {
		return err
	}
	ids := make([]collab.ConnectionID, len(others))
	for i, p := range others {
		ids[i] = p.ConnectionID
	}
	res := fanout.Deliver(c.conns, ids, joiner.ConnectionID, announce.Stamped(now), transport.ClassControl)
	c.logDelivery("user_joined", key, res)
	return nil
}

// AnnounceLeave tells the remaining members that p left and discards the
// ephemeral state p had in the room.
func (c *Coordinator) AnnounceLeave(key collab.RoomKey, p collab.Participant) {
	c.Forget(key, p.ConnectionID)

	env, err := collab.NewEnvelope(collab.TypeUserLeft, key.String(), collab.UserLeftData{
		ConnectionID: p.ConnectionID,
		User:         p.User,
	})
	if err != nil {
		c.logger.Error("Failed to encode user_left", "roomID", key.String(), "error", err)
		return
	}
	res := fanout.Deliver(c.conns, c.rooms.MembersOf(key), p.ConnectionID, env.Stamped(c.now()), transport.ClassControl)
	c.logDelivery("user_left", key, res)
}

// Relay records an ephemeral message from sender and broadcasts it to the
// other members. Delivery failures are dropped silently.
func (c *Coordinator) Relay(sender registry.Connection, msg collab.Message) (fanout.Result, error) {
	switch msg.Type {
	case collab.TypeTypingIndicator:
		var data collab.TypingIndicatorData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return fanout.Result{}, fmt.Errorf("%w: typing_indicator: %v", collab.ErrInvalidMessage, err)
		}
		c.setTyping(msg.Room, sender.ID, data.IsTyping, msg.CreatedAt)
	case collab.TypeCursorMove:
		var data collab.CursorMoveData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return fanout.Result{}, fmt.Errorf("%w: cursor_move: %v", collab.ErrInvalidMessage, err)
		}
		c.setCursor(msg.Room, sender.ID, data.Position, msg.CreatedAt)
	default:
		return fanout.Result{}, fmt.Errorf("%w: %s is not ephemeral", collab.ErrInvalidMessage, msg.Type)
	}

	data, err := fanout.Enrich(msg.Payload, "", sender.Identity, sender.ID)
	if err != nil {
		return fanout.Result{}, err
	}
	env := collab.Envelope{Type: msg.Type, RoomID: msg.Room.String(), Data: data}.Stamped(msg.CreatedAt)
	return fanout.Deliver(c.conns, c.rooms.MembersOf(msg.Room), sender.ID, env, transport.ClassEphemeral), nil
}

// Typing records and broadcasts the typing state of sender in key.
func (c *Coordinator) Typing(key collab.RoomKey, sender registry.Connection, isTyping bool) (fanout.Result, error) {
	payload, err := json.Marshal(collab.TypingIndicatorData{IsTyping: isTyping})
	if err != nil {
		return fanout.Result{}, err
	}
	return c.Relay(sender, collab.Message{
		Room: key, SenderID: sender.ID, Sender: sender.Identity,
		Type: collab.TypeTypingIndicator, Payload: payload, CreatedAt: c.now(),
	})
}

// Cursor records and broadcasts the cursor position of sender in key.
func (c *Coordinator) Cursor(key collab.RoomKey, sender registry.Connection, position json.RawMessage) (fanout.Result, error) {
	payload, err := json.Marshal(collab.CursorMoveData{Position: position})
	if err != nil {
		return fanout.Result{}, err
	}
	return c.Relay(sender, collab.Message{
		Room: key, SenderID: sender.ID, Sender: sender.Identity,
		Type: collab.TypeCursorMove, Payload: payload, CreatedAt: c.now(),
	})
}

// Forget discards the ephemeral state id holds in key.
func (c *Coordinator) Forget(key collab.RoomKey, id collab.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.typing[key]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(c.typing, key)
		}
	}
	if m, ok := c.cursors[key]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(c.cursors, key)
		}
	}
}

// Typists returns the connections currently typing in key.
func (c *Coordinator) Typists(key collab.RoomKey) []collab.ConnectionID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]collab.ConnectionID, 0, len(c.typing[key]))
	for id := range c.typing[key] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CursorOf returns the last known cursor position of id in key.
func (c *Coordinator) CursorOf(key collab.RoomKey, id collab.ConnectionID) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cur, ok := c.cursors[key][id]
	return cur.position, ok
}

func (c *Coordinator) setTyping(key collab.RoomKey, id collab.ConnectionID, isTyping bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.typing[key]
	if !isTyping {
		if ok {
			delete(m, id)
			if len(m) == 0 {
				delete(c.typing, key)
			}
		}
		return
	}
	if !ok {
		m = make(map[collab.ConnectionID]time.Time)
		c.typing[key] = m
	}
	m[id] = at
}

func (c *Coordinator) setCursor(key collab.RoomKey, id collab.ConnectionID, position json.RawMessage, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.cursors[key]
	if !ok {
		m = make(map[collab.ConnectionID]cursor)
		c.cursors[key] = m
	}
	if prev, ok := m[id]; ok && at.Before(prev.at) {
		return
	}
	m[id] = cursor{position: position, at: at}
}

func (c *Coordinator) logDelivery(kind string, key collab.RoomKey, res fanout.Result) {
	if len(res.Dropped) == 0 && len(res.Failed) == 0 {
		return
	}
	c.logger.Warn("Presence delivery incomplete",
		"kind", kind,
		"roomID", key.String(),
		"delivered", res.Delivered,
		"dropped", len(res.Dropped),
		"failed", len(res.Failed))
}
