package history

import (
	"encoding/json"
	"time"

	"github.com/example/collab-realtime/domain/collab"
)

// Service names registered by the history module. The framework prefixes
// them with "services.history.".
const (
	ServiceAppend       = "append"
	ServiceRecent       = "recent"
	ServiceSaveSnapshot = "save-snapshot"
	ServiceLoadSnapshot = "load-snapshot"
)

// Error codes carried in service responses.
const (
	codeNotFound = "not_found"
	codeInvalid  = "invalid"
	codeStorage  = "storage"
)

// AppendRequest asks the module to persist one message.
type AppendRequest struct {
	Message collab.Message `json:"message"`
}

// AppendResponse acknowledges an append.
type AppendResponse struct {
	Stored bool   `json:"stored"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// RecentRequest asks for the newest messages of a room.
type RecentRequest struct {
	Room  collab.RoomKey `json:"room"`
	Limit int            `json:"limit"`
}

// RecentResponse carries the messages, oldest first.
type RecentResponse struct {
	Messages []collab.Message `json:"messages"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
}

// SaveSnapshotRequest stores a whiteboard snapshot.
type SaveSnapshotRequest struct {
	Room    collab.RoomKey  `json:"room"`
	Data    json.RawMessage `json:"data"`
	SavedBy string          `json:"savedBy"`
}

// LoadSnapshotRequest fetches a whiteboard snapshot.
type LoadSnapshotRequest struct {
	Room collab.RoomKey `json:"room"`
}

// SnapshotResponse carries a snapshot.
type SnapshotResponse struct {
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
}

// HistoryEntry is the REST representation of a stored message.
type HistoryEntry struct {
	ID           string              `json:"id"`
	RoomID       string              `json:"roomId"`
	Type         collab.MessageType  `json:"type"`
	Data         json.RawMessage     `json:"data"`
	Sender       collab.Identity     `json:"sender"`
	ConnectionID collab.ConnectionID `json:"connectionId"`
	Timestamp    time.Time           `json:"timestamp"`
}

// EntryFromMessage converts a stored message for clients.
func EntryFromMessage(msg collab.Message) HistoryEntry {
	return HistoryEntry{
		ID:           msg.ID,
		RoomID:       msg.Room.String(),
		Type:         msg.Type,
		Data:         msg.Payload,
		Sender:       msg.Sender,
		ConnectionID: msg.SenderID,
		Timestamp:    msg.CreatedAt,
	}
}
