// Package reconnect is the client side of the collaboration protocol: it
// keeps one websocket session alive, re-joins the last room after a dropped
// connection and fetches missed history over REST.
package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/collab-realtime/domain/collab"
)

var (
	// ErrRetriesExhausted is returned by Run when MaxRetries consecutive
	// attempts failed.
	ErrRetriesExhausted = errors.New("reconnect: retries exhausted")
	// ErrNotConnected is returned by Send while no session is open.
	ErrNotConnected = errors.New("reconnect: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reconnect: closed")
)

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// closeWait bounds the close frame written by Close.
const closeWait = time.Second

// Conn is one websocket session. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens a websocket session.
func (d WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3000/ws.
	URL     string
	Claim   collab.IdentityClaim
	Backoff Backoff
	Dialer  Dialer

	// OnEnvelope receives every inbound envelope on the read goroutine.
	OnEnvelope func(collab.Envelope)
	// OnState is called on every state change.
	OnState func(State)
	// OnRetry is called before waiting for retry number attempt.
	OnRetry func(attempt int, delay time.Duration)

	Logger *slog.Logger
}

// Manager keeps a collaboration session alive.
type Manager struct {
	cfg     Config
	backoff Backoff
	logger  *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    Conn
	state   State
	connID  collab.ConnectionID
	room    *collab.RoomKey
	closed  bool
	done    chan struct{}

	// Peer state learned from ephemeral frames. It belongs to one server
	// session and is dropped whenever the session ends.
	cursors map[collab.ConnectionID]json.RawMessage
	typing  map[collab.ConnectionID]bool
}

// New creates a Manager. Call Run to connect.
func New(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		backoff: cfg.Backoff.normalized(),
		logger:  cfg.Logger,
		done:    make(chan struct{}),
		cursors: make(map[collab.ConnectionID]json.RawMessage),
		typing:  make(map[collab.ConnectionID]bool),
	}
}

// dialURL appends the identity claim to the endpoint.
func (m *Manager) dialURL() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", m.cfg.Claim.UserID)
	q.Set("userName", m.cfg.Claim.UserName)
	q.Set("userRole", m.cfg.Claim.UserRole)
	q.Set("establishmentId", m.cfg.Claim.EstablishmentID)
	if m.cfg.Claim.Token != "" {
		q.Set("token", m.cfg.Claim.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and keeps reconnecting until ctx ends, Close is called, the
// server closes the session cleanly or the retry budget is spent. It returns
// nil for a clean close or Close, ctx.Err() on cancellation and
// ErrRetriesExhausted otherwise.
func (m *Manager) Run(ctx context.Context) error {
	target, err := m.dialURL()
	if err != nil {
		return fmt.Errorf("reconnect: invalid url: %w", err)
	}

	attempt := 0
	for {
		if m.isClosed() {
			m.setState(StateClosed)
			return nil
		}
		m.setState(StateConnecting)

		conn, err := m.cfg.Dialer.Dial(ctx, target)
		if err == nil {
			attempt = 0
			clean := m.serve(conn)
			if clean || m.isClosed() {
				m.setState(StateClosed)
				return nil
			}
		} else {
			m.logger.Warn("Dial failed", "url", m.cfg.URL, "attempt", attempt, "error", err)
		}
		m.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.backoff.Exhausted(attempt) {
			m.setState(StateClosed)
			return ErrRetriesExhausted
		}

		delay := m.backoff.Delay(attempt)
		if m.cfg.OnRetry != nil {
			m.cfg.OnRetry(attempt, delay)
		}
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.done:
			timer.Stop()
			m.setState(StateClosed)
			return nil
		}
	}
}

// serve runs one session until it ends and reports whether the server closed
// it cleanly.
func (m *Manager) serve(conn Conn) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return true
	}
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateConnected)

	defer func() {
		_ = conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.connID = ""
		clear(m.cursors)
		clear(m.typing)
		m.mu.Unlock()
	}()

	for {
		var env collab.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				m.logger.Info("Session closed by server")
				return true
			}
			if !m.isClosed() {
				m.logger.Warn("Session lost", "error", err)
			}
			return false
		}
		m.handle(env)
		if m.cfg.OnEnvelope != nil {
			m.cfg.OnEnvelope(env)
		}
	}
}

func (m *Manager) handle(env collab.Envelope) {
	switch env.Type {
	case collab.TypeConnected:
		var data collab.ConnectedData
		if json.Unmarshal(env.Data, &data) != nil {
			return
		}
		m.mu.Lock()
		m.connID = data.ConnectionID
		room := m.room
		m.mu.Unlock()
		// The server forgot our membership along with the old connection.
		if room != nil {
			if err := m.sendJoin(*room); err != nil {
				m.logger.Warn("Failed to rejoin room", "roomID", room.String(), "error", err)
			}
		}

	case collab.TypeRoomJoined:
		m.setState(StateJoined)

	case collab.TypeRoomLeft:
		m.setState(StateConnected)

	case collab.TypeCursorMove:
		var data struct {
			ConnectionID collab.ConnectionID `json:"connectionId"`
			Position     json.RawMessage     `json:"position"`
		}
		if json.Unmarshal(env.Data, &data) == nil && data.ConnectionID != "" {
			m.mu.Lock()
			m.cursors[data.ConnectionID] = data.Position
			m.mu.Unlock()
		}

	case collab.TypeTypingIndicator:
		var data struct {
			ConnectionID collab.ConnectionID `json:"connectionId"`
			IsTyping     bool                `json:"isTyping"`
		}
		if json.Unmarshal(env.Data, &data) == nil && data.ConnectionID != "" {
			m.mu.Lock()
			if data.IsTyping {
				m.typing[data.ConnectionID] = true
			} else {
				delete(m.typing, data.ConnectionID)
			}
			m.mu.Unlock()
		}

	case collab.TypeUserLeft:
		var data collab.UserLeftData
		if json.Unmarshal(env.Data, &data) == nil {
			m.mu.Lock()
			delete(m.cursors, data.ConnectionID)
			delete(m.typing, data.ConnectionID)
			m.mu.Unlock()
		}
	}
}

// Join asks to join key and remembers it for reconnects. While disconnected
// the join is sent as soon as the next session opens.
func (m *Manager) Join(key collab.RoomKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	k := key
	m.room = &k
	connected := m.conn != nil && m.connID != ""
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.sendJoin(key)
}

// Leave leaves the current room and forgets it.
func (m *Manager) Leave() error {
	m.mu.Lock()
	room := m.room
	m.room = nil
	m.mu.Unlock()
	if room == nil {
		return nil
	}

	env, err := collab.NewEnvelope(collab.TypeLeaveRoom, room.String(), collab.LeaveRoomData{RoomID: room.String()})
	if err != nil {
		return err
	}
	return m.Send(env)
}

func (m *Manager) sendJoin(key collab.RoomKey) error {
	env, err := collab.NewEnvelope(collab.TypeJoinRoom, "", collab.JoinRoomData{
		RoomType:   string(key.Type),
		ResourceID: key.ResourceID,
	})
	if err != nil {
		return err
	}
	return m.Send(env)
}

// Send writes env on the current session.
func (m *Manager) Send(env collab.Envelope) error {
	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// Close ends the session with a normal closure and stops reconnecting. It is
// safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	close(m.done)
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	m.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Debug("Failed to send close frame", "error", err)
	}
	return conn.Close()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed && m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the id the server assigned to the current session.
func (m *Manager) ConnectionID() collab.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Room returns the room the manager joins on every session.
func (m *Manager) Room() (collab.RoomKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.room == nil {
		return collab.RoomKey{}, false
	}
	return *m.room, true
}

// Cursors returns the last cursor position of each peer in this session.
func (m *Manager) Cursors() map[collab.ConnectionID]json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[collab.ConnectionID]json.RawMessage, len(m.cursors))
	for id, pos := range m.cursors {
		out[id] = pos
	}
	return out
}

// Typing returns the peers currently typing in this session.
func (m *Manager) Typing() []collab.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]collab.ConnectionID, 0, len(m.typing))
	for id := range m.typing {
		out = append(out, id)
	}
	return out
}
