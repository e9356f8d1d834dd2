package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-monolith/mono"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/events"
	"github.com/example/collab-realtime/modules/notify"
	"github.com/example/collab-realtime/modules/registry"
	"github.com/example/collab-realtime/modules/transport"
)

// Collab is the part of the collaboration service the HTTP surface drives.
// *session.Service implements it.
type Collab interface {
	Connect(ctx context.Context, claim collab.IdentityClaim, t transport.Transport) (collab.ConnectionID, error)
	Disconnect(id collab.ConnectionID)
	Touch(id collab.ConnectionID) bool
	Resolve(id collab.ConnectionID) (registry.Connection, error)
	HandleEnvelope(ctx context.Context, id collab.ConnectionID, env collab.Envelope) error
	Rooms() []collab.RoomInfo
	Participants(key collab.RoomKey) []collab.Participant
}

// AlertSource exposes recent operational alerts. *notify.Module implements it.
type AlertSource interface {
	Alerts(limit int) []events.AlertEvent
	Activity() notify.Activity
}

// HealthChecker is a module whose health is folded into GET /health.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) mono.HealthStatus
}

// ConnectionOptions tunes the transports created for new connections.
type ConnectionOptions struct {
	QueueSize    int
	PingInterval time.Duration
	HistoryLimit int
}

// PollConnectResponse is returned by POST /api/v1/poll/connect.
type PollConnectResponse struct {
	ConnectionID collab.ConnectionID `json:"connectionId"`
	Transport    string              `json:"transport"`
}

// PollResponse carries drained envelopes.
type PollResponse struct {
	ConnectionID collab.ConnectionID `json:"connectionId"`
	Messages     []collab.Envelope   `json:"messages"`
}

// SnapshotRequest is the body of PUT /api/v1/rooms/:type/:resourceId/snapshot.
type SnapshotRequest struct {
	Data    json.RawMessage `json:"data"`
	SavedBy string          `json:"savedBy"`
}
