// Package notify is the notification sink. It consumes collaboration
// events from the EventBus and keeps operator-facing alerts outside the
// live fan-out path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/collab-realtime/events"
)

// DefaultCapacity bounds the number of alerts kept in memory.
const DefaultCapacity = 200

// Activity counts presence events seen since start.
type Activity struct {
	Joins    int64 `json:"joins"`
	Leaves   int64 `json:"leaves"`
	Messages int64 `json:"messages"`
}

// Module consumes alerts and presence events.
type Module struct {
	mu       sync.RWMutex
	alerts   []events.AlertEvent
	capacity int
	activity Activity
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventConsumerModule = (*Module)(nil)
)

// NewModule creates a notification sink keeping up to capacity alerts.
func NewModule(capacity int, logger types.Logger) *Module {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Module{
		alerts:   make([]events.AlertEvent, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "notify"
}

// RegisterEventConsumers subscribes to collaboration events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.AlertV1, m.handleAlert, m); err != nil {
		return fmt.Errorf("failed to register Alert consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.ParticipantJoinedV1, m.handleJoined, m); err != nil {
		return fmt.Errorf("failed to register ParticipantJoined consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.ParticipantLeftV1, m.handleLeft, m); err != nil {
		return fmt.Errorf("failed to register ParticipantLeft consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageAcceptedV1, m.handleAccepted, m); err != nil {
		return fmt.Errorf("failed to register MessageAccepted consumer: %w", err)
	}

	m.logger.Info("Registered event consumers",
		"events", "Alert, ParticipantJoined, ParticipantLeft, MessageAccepted")
	return nil
}

func (m *Module) handleAlert(_ context.Context, evt events.AlertEvent, _ *mono.Msg) error {
	m.Record(evt)
	return nil
}

func (m *Module) handleJoined(_ context.Context, evt events.ParticipantJoinedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.activity.Joins++
	m.mu.Unlock()
	m.logger.Debug("Participant joined", "roomID", evt.RoomID, "userID", evt.UserID, "members", evt.Members)
	return nil
}

func (m *Module) handleLeft(_ context.Context, evt events.ParticipantLeftEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.activity.Leaves++
	m.mu.Unlock()
	m.logger.Debug("Participant left",
		"roomID", evt.RoomID,
		"userID", evt.UserID,
		"reason", evt.Reason,
		"remaining", evt.Remaining)
	return nil
}

func (m *Module) handleAccepted(_ context.Context, _ events.MessageAcceptedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	m.activity.Messages++
	m.mu.Unlock()
	return nil
}

// Record stores an alert and logs it at a level matching its severity.
func (m *Module) Record(evt events.AlertEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	if len(m.alerts) == m.capacity {
		copy(m.alerts, m.alerts[1:])
		m.alerts = m.alerts[:len(m.alerts)-1]
	}
	m.alerts = append(m.alerts, evt)
	m.mu.Unlock()

	args := []any{"kind", evt.Kind, "roomID", evt.RoomID}
	for k, v := range evt.Details {
		args = append(args, k, v)
	}
	switch evt.Severity {
	case events.SeverityError:
		m.logger.Error(evt.Message, args...)
	case events.SeverityWarning:
		m.logger.Warn(evt.Message, args...)
	default:
		m.logger.Info(evt.Message, args...)
	}
}

// Alerts returns up to limit of the newest alerts, newest first.
func (m *Module) Alerts(limit int) []events.AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]events.AlertEvent, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// Activity returns the presence counters.
func (m *Module) Activity() Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activity
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Notify module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Notify module stopped")
	return nil
}
