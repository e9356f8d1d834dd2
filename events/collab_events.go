package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// ParticipantJoinedEvent is emitted after a connection joined a room and
// presence was announced.
type ParticipantJoinedEvent struct {
	RoomID          string    `json:"room_id"`
	ConnectionID    string    `json:"connection_id"`
	UserID          string    `json:"user_id"`
	UserName        string    `json:"user_name"`
	EstablishmentID string    `json:"establishment_id"`
	Members         int       `json:"members"`
	Timestamp       time.Time `json:"timestamp"`
}

// ParticipantLeftEvent is emitted after a connection left a room, either
// explicitly, by switching rooms or by disconnecting.
type ParticipantLeftEvent struct {
	RoomID       string    `json:"room_id"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Reason       string    `json:"reason"`
	Remaining    int       `json:"remaining"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageAcceptedEvent is emitted for every persisted message after fan-out.
type MessageAcceptedEvent struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

// Alert severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// AlertEvent is an operator-facing notification outside the live fan-out
// path.
type AlertEvent struct {
	Kind      string            `json:"kind"`
	Severity  string            `json:"severity"`
	RoomID    string            `json:"room_id,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Alert kinds.
const (
	AlertRoomFull        = "room_full"
	AlertPersistence     = "persistence_failure"
	AlertLivenessReaped  = "liveness_reaped"
	AlertTransportFailed = "transport_failed"
)

// Event definitions for the collaboration domain.
var (
	ParticipantJoinedV1 = helper.EventDefinition[ParticipantJoinedEvent](
		"collab",
		"ParticipantJoined",
		"v1",
	)

	ParticipantLeftV1 = helper.EventDefinition[ParticipantLeftEvent](
		"collab",
		"ParticipantLeft",
		"v1",
	)

	MessageAcceptedV1 = helper.EventDefinition[MessageAcceptedEvent](
		"collab",
		"MessageAccepted",
		"v1",
	)

	AlertV1 = helper.EventDefinition[AlertEvent](
		"collab",
		"Alert",
		"v1",
	)
)
