package collab

import (
	"encoding/json"
	"time"
)

// MessageType is the envelope type of an application or presence message.
type MessageType string

// Client to server message types.
const (
	TypeJoinRoom        MessageType = "join_room"
	TypeLeaveRoom       MessageType = "leave_room"
	TypeCursorMove      MessageType = "cursor_move"
	TypeTextChange      MessageType = "text_change"
	TypeWhiteboardDraw  MessageType = "whiteboard_draw"
	TypeChatMessage     MessageType = "chat_message"
	TypeTypingIndicator MessageType = "typing_indicator"
	TypePing            MessageType = "ping"
)

// Server to client message types.
const (
	TypeConnected  MessageType = "connected"
	TypeRoomJoined MessageType = "room_joined"
	TypeRoomLeft   MessageType = "room_left"
	TypeUserJoined MessageType = "user_joined"
	TypeUserLeft   MessageType = "user_left"
	TypeError      MessageType = "error"
	TypePong       MessageType = "pong"
)

// Presence types recorded on the message model; never sent by clients.
const (
	TypeJoin  MessageType = "join"
	TypeLeave MessageType = "leave"
)

// Persistable reports whether messages of this type are durably recorded
// before fan-out.
func (t MessageType) Persistable() bool {
	switch t {
	case TypeChatMessage, TypeWhiteboardDraw, TypeTextChange:
		return true
	}
	return false
}

// Ephemeral reports whether messages of this type are broadcast-only state
// that may be dropped under pressure.
func (t MessageType) Ephemeral() bool {
	return t == TypeCursorMove || t == TypeTypingIndicator
}

// Routable reports whether the router accepts this type for fan-out.
func (t MessageType) Routable() bool {
	return t.Persistable() || t.Ephemeral()
}

// Message is an accepted application event.
type Message struct {
	ID        string          `json:"id"`
	Room      RoomKey         `json:"room"`
	SenderID  ConnectionID    `json:"senderId"`
	Sender    Identity        `json:"sender"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Envelope is the wire frame used in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// NewEnvelope marshals data into an envelope. A nil data value becomes an
// empty object.
func NewEnvelope(msgType MessageType, roomID string, data any) (Envelope, error) {
	raw := json.RawMessage(`{}`)
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Type: msgType, RoomID: roomID, Data: raw}, nil
}

// Stamped returns a copy of the envelope carrying the given server timestamp.
func (e Envelope) Stamped(ts time.Time) Envelope {
	t := ts.UTC()
	e.Timestamp = &t
	return e
}

// Inbound payloads.

// JoinRoomData requests membership of a room. Either RoomType and ResourceID
// or the combined RoomID must be present.
type JoinRoomData struct {
	RoomID     string `json:"roomId,omitempty"`
	RoomType   string `json:"roomType,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
}

// Key resolves the requested room key.
func (d JoinRoomData) Key() (RoomKey, error) {
	if d.RoomType != "" || d.ResourceID != "" {
		key, err := NewRoomKey(RoomType(d.RoomType), d.ResourceID)
		if err != nil {
			return RoomKey{}, err
		}
		if d.RoomID != "" && d.RoomID != key.String() {
			return RoomKey{}, ErrInvalidRoomKey
		}
		return key, nil
	}
	return ParseRoomKey(d.RoomID)
}

// LeaveRoomData requests leaving a room.
type LeaveRoomData struct {
	RoomID string `json:"roomId,omitempty"`
}

// CursorMoveData carries an opaque cursor position.
type CursorMoveData struct {
	Position json.RawMessage `json:"position" validate:"required"`
}

// TextChangeData carries a text editing operation.
type TextChangeData struct {
	Operation json.RawMessage `json:"operation" validate:"required"`
	Content   string          `json:"content" validate:"max=100000"`
}

// WhiteboardDrawData carries a whiteboard drawing operation.
type WhiteboardDrawData struct {
	DrawData json.RawMessage `json:"drawData" validate:"required"`
}

// ChatMessageData carries a chat line.
type ChatMessageData struct {
	Message string `json:"message" validate:"required,notblank,max=5000"`
}

// TypingIndicatorData carries the typing state of a participant.
type TypingIndicatorData struct {
	IsTyping bool `json:"isTyping"`
}

// Outbound payloads.

// ConnectedData acknowledges a handshake.
type ConnectedData struct {
	ConnectionID ConnectionID `json:"connectionId"`
	User         Identity     `json:"user"`
	Transport    string       `json:"transport"`
}

// RoomJoinedData is sent to the joining connection only.
type RoomJoinedData struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// RoomLeftData confirms an explicit leave to the leaving connection.
type RoomLeftData struct {
	RoomID string `json:"roomId"`
}

// UserJoinedData is sent to the other members when someone joins.
type UserJoinedData struct {
	ConnectionID ConnectionID `json:"connectionId"`
	User         Identity     `json:"user"`
	JoinedAt     time.Time    `json:"joinedAt"`
}

// UserLeftData is sent to the remaining members when someone leaves.
type UserLeftData struct {
	ConnectionID ConnectionID `json:"connectionId"`
	User         Identity     `json:"user"`
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
