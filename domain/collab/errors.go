package collab

import "errors"

// Collaboration errors. Per-connection errors are reported to the originating
// client as an error envelope and never affect other connections.
var (
	ErrIdentityInvalid   = errors.New("identity claim is invalid")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrUnauthenticated   = errors.New("sender is not authenticated")
	ErrRoomFull          = errors.New("room is full")
	ErrNotInRoom         = errors.New("connection is not a member of the room")
	ErrPersistence       = errors.New("message could not be persisted")
	ErrTransport         = errors.New("transport send failed")
	ErrInvalidRoomKey    = errors.New("invalid room key")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Error codes sent to clients in error envelopes.
const (
	CodeIdentityInvalid   = "identity_invalid"
	CodeUnknownConnection = "unknown_connection"
	CodeUnauthenticated   = "unauthenticated"
	CodeRoomFull          = "room_full"
	CodeNotInRoom         = "not_in_room"
	CodePersistence       = "persistence_error"
	CodeTransport         = "transport_error"
	CodeInvalidMessage    = "invalid_message"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIdentityInvalid):
		return CodeIdentityInvalid
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUnknownConnection):
		return CodeUnknownConnection
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrInvalidRoomKey), errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
