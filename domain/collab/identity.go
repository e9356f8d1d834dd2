package collab

import "time"

// ConnectionID identifies one live transport session. Values are opaque and
// generated by the server.
type ConnectionID string

// Identity is the user bound to a connection at admission. It never changes
// for the lifetime of the connection.
type Identity struct {
	UserID          string `json:"userId" validate:"required,notblank,max=64"`
	UserName        string `json:"userName" validate:"required,notblank,max=100"`
	UserRole        string `json:"userRole" validate:"required,notblank,max=32"`
	EstablishmentID string `json:"establishmentId" validate:"required,notblank,max=64"`
}

// IdentityClaim is what a client presents at handshake time.
type IdentityClaim struct {
	Identity
	// Token is an optional signed token; when token verification is enabled
	// the identity is taken from it instead of the plain fields.
	Token string `json:"token,omitempty"`
}

// Participant is the room-scoped view of a connection.
type Participant struct {
	ConnectionID ConnectionID `json:"connectionId"`
	User         Identity     `json:"user"`
	JoinedAt     time.Time    `json:"joinedAt"`
}
