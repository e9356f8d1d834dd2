// Package session wires the connection registry, room directory, presence
// coordinator and message router into one collaboration service, and exposes
// it to the rest of the application as the "collab" mono module.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/events"
	"github.com/example/collab-realtime/modules/fanout"
	"github.com/example/collab-realtime/modules/identity"
	"github.com/example/collab-realtime/modules/presence"
	"github.com/example/collab-realtime/modules/ratelimit"
	"github.com/example/collab-realtime/modules/registry"
	"github.com/example/collab-realtime/modules/rooms"
	"github.com/example/collab-realtime/modules/router"
	"github.com/example/collab-realtime/modules/transport"
)

// Reasons reported in ParticipantLeft events.
const (
	ReasonExplicit   = "leave"
	ReasonSwitch     = "switch"
	ReasonDisconnect = "disconnect"
	ReasonStale      = "stale"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	MaxMembers      int
	LivenessTimeout time.Duration
	ReaperInterval  time.Duration

	Identity  identity.Provider
	Limiter   ratelimit.Limiter
	Publisher Publisher

	// Clock and IDs override time and connection id generation in tests.
	Clock func() time.Time
	IDs   func() string
}

// Service is the collaboration core. All membership mutations (join, leave,
// disconnect, stale healing) are serialized by one lock so the registry and
// the directory never disagree about who is in which room.
type Service struct {
	registry *registry.Registry
	rooms    *rooms.Directory
	presence *presence.Coordinator
	router   *router.Router
	reaper   *registry.Reaper

	identity  identity.Provider
	payloads  *identity.Payloads
	limiter   ratelimit.Limiter
	publisher Publisher
	logger    types.Logger
	now       func() time.Time

	memberMu sync.Mutex
}

// NewService creates the collaboration service. Durable messages are written
// through persister before fan-out.
func NewService(persister router.Persister, opts Options, logger types.Logger) (*Service, error) {
	if opts.MaxMembers <= 0 {
		opts.MaxMembers = rooms.DefaultMaxMembers
	}
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = 30 * time.Second
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Identity == nil {
		opts.Identity = identity.NewClaimProvider(nil)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLocal(ratelimit.DefaultConfig())
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}

	regOpts := []registry.Option{registry.WithClock(opts.Clock)}
	if opts.IDs != nil {
		regOpts = append(regOpts, registry.WithIDGenerator(opts.IDs))
	}
	reg, err := registry.New(regOpts...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		registry:  reg,
		rooms:     rooms.NewDirectory(opts.MaxMembers),
		identity:  opts.Identity,
		payloads:  identity.NewPayloads(nil),
		limiter:   opts.Limiter,
		publisher: opts.Publisher,
		logger:    logger,
		now:       opts.Clock,
	}
	s.presence = presence.NewCoordinator(reg, s.rooms, logger)
	s.router = router.New(reg, s.rooms, persister, logger,
		router.WithEphemeral(s.presence),
		router.WithStaleHandler(s.healStale),
		router.WithAcceptHook(s.accepted),
		router.WithClock(opts.Clock),
	)
	reg.SetDepartureHook(s.depart)

	s.reaper = registry.NewReaper(reg, opts.LivenessTimeout, opts.ReaperInterval, logger)
	s.reaper.OnReap(s.reaped)
	return s, nil
}

// Start runs the liveness reaper until Stop.
func (s *Service) Start(ctx context.Context) {
	s.reaper.Start(ctx)
}

// Stop halts the liveness reaper.
func (s *Service) Stop() {
	s.reaper.Stop()
}

// Connect resolves the claim, admits the connection and acknowledges the
// handshake on t. When the claim is rejected t is left open so the caller can
// report the error before closing it.
func (s *Service) Connect(ctx context.Context, claim collab.IdentityClaim, t transport.Transport) (collab.ConnectionID, error) {
	id, err := s.identity.Resolve(ctx, claim)
	if err != nil {
		return "", err
	}
	connID, err := s.registry.Admit(id, t)
	if err != nil {
		return "", err
	}

	env, err := collab.NewEnvelope(collab.TypeConnected, "", collab.ConnectedData{
		ConnectionID: connID,
		User:         id,
		Transport:    t.Kind(),
	})
	if err != nil {
		return "", err
	}
	if err := t.Send(env.Stamped(s.now()), transport.ClassControl); err != nil {
		s.registry.Remove(connID)
		return "", err
	}

	s.logger.Info("Connection admitted",
		"connectionID", connID,
		"userID", id.UserID,
		"transport", t.Kind())
	return connID, nil
}

// Disconnect removes a connection. Room departures are announced before the
// connection is erased. It is safe to call more than once.
func (s *Service) Disconnect(id collab.ConnectionID) {
	if s.registry.Remove(id) {
		s.logger.Info("Connection closed", "connectionID", id)
	}
}

// Touch records a liveness signal.
func (s *Service) Touch(id collab.ConnectionID) bool {
	return s.registry.Touch(id)
}

// Resolve returns the live connection for id.
func (s *Service) Resolve(id collab.ConnectionID) (registry.Connection, error) {
	return s.registry.Resolve(id)
}

// Join moves the connection into the room at key. Membership is exclusive:
// the previous room, if any, is left after the new room accepted the
// connection, so a full room leaves the caller where it was.
func (s *Service) Join(_ context.Context, id collab.ConnectionID, key collab.RoomKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	conn, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}

	joiner := collab.Participant{ConnectionID: id, User: conn.Identity, JoinedAt: s.now().UTC()}
	others, joined, err := s.rooms.Join(key, joiner)
	if err != nil {
		if errors.Is(err, collab.ErrRoomFull) {
			s.publisher.Alert(events.AlertEvent{
				Kind:      events.AlertRoomFull,
				Severity:  events.SeverityWarning,
				RoomID:    key.String(),
				Message:   "Join rejected, room is full",
				Details:   map[string]string{"userID": conn.Identity.UserID},
				Timestamp: s.now().UTC(),
			})
		}
		return err
	}
	if others == nil {
		others = []collab.Participant{}
	}

	if !joined {
		return s.send(conn, collab.TypeRoomJoined, key, collab.RoomJoinedData{
			RoomID:       key.String(),
			Participants: others,
		})
	}

	for _, prev := range s.rooms.RoomsOf(id) {
		if prev != key {
			s.leaveLocked(id, prev, ReasonSwitch)
		}
	}
	if err := s.registry.SetRoom(id, &key); err != nil {
		return err
	}

	if err := s.presence.AnnounceJoin(key, joiner, others); err != nil {
		s.logger.Warn("Failed to acknowledge join", "connectionID", id, "roomID", key.String(), "error", err)
	}
	s.publisher.ParticipantJoined(events.ParticipantJoinedEvent{
		RoomID:          key.String(),
		ConnectionID:    string(id),
		UserID:          conn.Identity.UserID,
		UserName:        conn.Identity.UserName,
		EstablishmentID: conn.Identity.EstablishmentID,
		Members:         len(others) + 1,
		Timestamp:       joiner.JoinedAt,
	})
	s.logger.Info("Joined room", "connectionID", id, "roomID", key.String(), "members", len(others)+1)
	return nil
}

// Leave removes the connection from key, or from its current room when key
// is zero. Leaving a room one is not in is a no-op.
func (s *Service) Leave(_ context.Context, id collab.ConnectionID, key collab.RoomKey) error {
	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	conn, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	if key.IsZero() {
		if conn.Room == nil {
			return nil
		}
		key = *conn.Room
	}
	if !s.leaveLocked(id, key, ReasonExplicit) {
		return nil
	}
	return s.send(conn, collab.TypeRoomLeft, key, collab.RoomLeftData{RoomID: key.String()})
}

// leaveLocked removes id from key and announces it. memberMu must be held.
func (s *Service) leaveLocked(id collab.ConnectionID, key collab.RoomKey, reason string) bool {
	left, remaining, ok := s.rooms.Leave(key, id)
	if !ok {
		return false
	}
	// The registry entry may already be gone for stale members.
	_ = s.registry.SetRoom(id, nil)

	s.presence.AnnounceLeave(key, left)
	s.publisher.ParticipantLeft(events.ParticipantLeftEvent{
		RoomID:       key.String(),
		ConnectionID: string(id),
		UserID:       left.User.UserID,
		UserName:     left.User.UserName,
		Reason:       reason,
		Remaining:    remaining,
		Timestamp:    s.now().UTC(),
	})
	s.logger.Info("Left room", "connectionID", id, "roomID", key.String(), "reason", reason, "remaining", remaining)
	return true
}

// depart is the registry departure hook.
func (s *Service) depart(conn registry.Connection) {
	s.memberMu.Lock()
	for _, key := range s.rooms.RoomsOf(conn.ID) {
		s.leaveLocked(conn.ID, key, ReasonDisconnect)
	}
	s.memberMu.Unlock()

	if err := s.limiter.Forget(context.Background(), string(conn.ID)); err != nil {
		s.logger.Warn("Failed to drop rate limit state", "connectionID", conn.ID, "error", err)
	}
}

// healStale removes a member whose connection is no longer registered.
func (s *Service) healStale(key collab.RoomKey, id collab.ConnectionID) {
	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	if _, err := s.registry.Resolve(id); err == nil {
		return
	}
	s.leaveLocked(id, key, ReasonStale)
}

func (s *Service) reaped(conn registry.Connection, idle time.Duration) {
	details := map[string]string{
		"connectionID": string(conn.ID),
		"userID":       conn.Identity.UserID,
		"idle":         idle.Round(time.Millisecond).String(),
	}
	roomID := ""
	if conn.Room != nil {
		roomID = conn.Room.String()
	}
	s.publisher.Alert(events.AlertEvent{
		Kind:      events.AlertLivenessReaped,
		Severity:  events.SeverityInfo,
		RoomID:    roomID,
		Message:   "Connection removed after liveness timeout",
		Details:   details,
		Timestamp: s.now().UTC(),
	})
}

// accepted is the router accept hook.
func (s *Service) accepted(msg collab.Message, res fanout.Result) {
	if len(res.Failed) > 0 {
		s.publisher.Alert(events.AlertEvent{
			Kind:      events.AlertTransportFailed,
			Severity:  events.SeverityWarning,
			RoomID:    msg.Room.String(),
			Message:   "Fan-out failed for some recipients",
			Details:   map[string]string{"failed": strconv.Itoa(len(res.Failed)), "type": string(msg.Type)},
			Timestamp: s.now().UTC(),
		})
	}
	if !msg.Type.Persistable() {
		return
	}
	s.publisher.MessageAccepted(events.MessageAcceptedEvent{
		MessageID:  msg.ID,
		RoomID:     msg.Room.String(),
		Type:       string(msg.Type),
		UserID:     msg.Sender.UserID,
		Recipients: res.Delivered,
		Timestamp:  msg.CreatedAt,
	})
}

// HandleEnvelope processes one inbound frame from id. Failures are reported
// to the sender as an error envelope and returned.
func (s *Service) HandleEnvelope(ctx context.Context, id collab.ConnectionID, env collab.Envelope) error {
	if !s.registry.Touch(id) {
		return collab.ErrUnknownConnection
	}
	if err := s.handle(ctx, id, env); err != nil {
		s.reportError(id, env, err)
		return err
	}
	return nil
}

func (s *Service) handle(ctx context.Context, id collab.ConnectionID, env collab.Envelope) error {
	switch env.Type {
	case collab.TypePing:
		conn, err := s.registry.Resolve(id)
		if err != nil {
			return err
		}
		return s.send(conn, collab.TypePong, collab.RoomKey{}, nil)

	case collab.TypeJoinRoom:
		var data collab.JoinRoomData
		if err := decode(env.Data, &data); err != nil {
			return err
		}
		if data.RoomID == "" && data.RoomType == "" && data.ResourceID == "" {
			data.RoomID = env.RoomID
		}
		key, err := data.Key()
		if err != nil {
			return err
		}
		return s.Join(ctx, id, key)

	case collab.TypeLeaveRoom:
		var data collab.LeaveRoomData
		if err := decode(env.Data, &data); err != nil {
			return err
		}
		roomID := data.RoomID
		if roomID == "" {
			roomID = env.RoomID
		}
		var key collab.RoomKey
		if roomID != "" {
			parsed, err := collab.ParseRoomKey(roomID)
			if err != nil {
				return err
			}
			key = parsed
		}
		return s.Leave(ctx, id, key)
	}

	if env.Type.Routable() {
		return s.dispatch(ctx, id, env)
	}
	return fmt.Errorf("%w: unknown message type %q", collab.ErrInvalidMessage, env.Type)
}

func (s *Service) dispatch(ctx context.Context, id collab.ConnectionID, env collab.Envelope) error {
	conn, err := s.registry.Resolve(id)
	if err != nil {
		return fmt.Errorf("%w: %w", collab.ErrUnauthenticated, err)
	}

	var key collab.RoomKey
	switch {
	case env.RoomID != "":
		if key, err = collab.ParseRoomKey(env.RoomID); err != nil {
			return err
		}
	case conn.Room != nil:
		key = *conn.Room
	default:
		return collab.ErrNotInRoom
	}

	if err := s.validatePayload(env.Type, env.Data); err != nil {
		return err
	}

	if env.Type.Persistable() {
		allowed, err := s.limiter.Allow(ctx, string(id))
		if err != nil {
			s.logger.Warn("Rate limiter unavailable, allowing message", "connectionID", id, "error", err)
		} else if !allowed {
			return collab.ErrRateLimited
		}
	}

	_, err = s.router.Dispatch(ctx, id, collab.Message{Room: key, Type: env.Type, Payload: env.Data})
	if errors.Is(err, collab.ErrPersistence) {
		s.publisher.Alert(events.AlertEvent{
			Kind:      events.AlertPersistence,
			Severity:  events.SeverityError,
			RoomID:    key.String(),
			Message:   "Message could not be persisted",
			Details:   map[string]string{"type": string(env.Type), "error": err.Error()},
			Timestamp: s.now().UTC(),
		})
	}
	return err
}

func (s *Service) validatePayload(t collab.MessageType, data json.RawMessage) error {
	var v any
	switch t {
	case collab.TypeChatMessage:
		v = &collab.ChatMessageData{}
	case collab.TypeWhiteboardDraw:
		v = &collab.WhiteboardDrawData{}
	case collab.TypeTextChange:
		v = &collab.TextChangeData{}
	case collab.TypeCursorMove:
		v = &collab.CursorMoveData{}
	case collab.TypeTypingIndicator:
		v = &collab.TypingIndicatorData{}
	default:
		return fmt.Errorf("%w: unknown message type %q", collab.ErrInvalidMessage, t)
	}
	if err := decode(data, v); err != nil {
		return err
	}
	return s.payloads.Struct(v)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", collab.ErrInvalidMessage, err)
	}
	return nil
}

// reportError sends an error envelope to id if it is still connected.
func (s *Service) reportError(id collab.ConnectionID, in collab.Envelope, cause error) {
	conn, err := s.registry.Resolve(id)
	if err != nil {
		return
	}
	env, err := collab.NewEnvelope(collab.TypeError, in.RoomID, collab.ErrorData{
		Error:   collab.ErrorCode(cause),
		Message: cause.Error(),
	})
	if err != nil {
		return
	}
	if err := conn.Transport.Send(env.Stamped(s.now()), transport.ClassControl); err != nil {
		s.logger.Debug("Failed to report error", "connectionID", id, "error", err)
	}
}

func (s *Service) send(conn registry.Connection, t collab.MessageType, key collab.RoomKey, data any) error {
	roomID := ""
	if !key.IsZero() {
		roomID = key.String()
	}
	env, err := collab.NewEnvelope(t, roomID, data)
	if err != nil {
		return err
	}
	return conn.Transport.Send(env.Stamped(s.now()), transport.ClassControl)
}

// Rooms lists active rooms.
func (s *Service) Rooms() []collab.RoomInfo {
	return s.rooms.List()
}

// Participants returns the members of key in join order.
func (s *Service) Participants(key collab.RoomKey) []collab.Participant {
	return s.rooms.Participants(key)
}

// MaxMembers returns the room capacity.
func (s *Service) MaxMembers() int {
	return s.rooms.MaxMembers()
}

// Stats summarizes live state for health reporting.
func (s *Service) Stats() map[string]any {
	roomCount, members := s.rooms.Stats()
	return map[string]any{
		"connections": s.registry.Count(),
		"transports":  s.registry.Stats(),
		"rooms":       roomCount,
		"members":     members,
		"lanes":       s.router.ActiveLanes(),
	}
}

// Sweep runs one liveness pass at now.
func (s *Service) Sweep(now time.Time) int {
	return s.reaper.Sweep(now)
}
