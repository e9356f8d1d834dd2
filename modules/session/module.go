package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"

	"github.com/example/collab-realtime/config"
	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/events"
	"github.com/example/collab-realtime/modules/history"
	"github.com/example/collab-realtime/modules/identity"
	"github.com/example/collab-realtime/modules/ratelimit"
)

// ErrHistoryUnavailable is returned while the history module is not wired.
var ErrHistoryUnavailable = errors.New("history module unavailable")

// Module is the "collab" mono module. It owns the collaboration Service and
// reaches the history module through its service container.
type Module struct {
	cfg       *config.Config
	service   *Service
	history   *historyLink
	publisher *busPublisher
	redis     *redis.Client
	logger    types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the collab module from configuration.
func NewModule(cfg *config.Config, logger types.Logger) (*Module, error) {
	m := &Module{
		cfg:       cfg,
		history:   &historyLink{},
		publisher: &busPublisher{logger: logger},
		logger:    logger,
	}

	validate := identity.NewValidator()
	var provider identity.Provider = identity.NewClaimProvider(validate)
	if cfg.TokenAuthEnabled() {
		provider = identity.NewTokenProvider(
			identity.NewTokenManager(identity.TokenConfig{SecretKey: cfg.JWTSecret}),
			validate,
		)
	}

	limits := ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow}
	var limiter ratelimit.Limiter = ratelimit.NewLocal(limits)
	if cfg.RedisAddr != "" {
		m.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(m.redis, limits, ratelimit.DefaultKeyPrefix)
	}

	service, err := NewService(m.history, Options{
		MaxMembers:      cfg.RoomMaxMembers,
		LivenessTimeout: cfg.LivenessTimeout,
		ReaperInterval:  cfg.ReaperInterval,
		Identity:        provider,
		Limiter:         limiter,
		Publisher:       m.publisher,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaboration service: %w", err)
	}
	m.service = service
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "collab"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"history"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "history" {
		m.history.set(history.NewAdapter(container))
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.publisher.setBus(bus)
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ParticipantJoinedV1.ToBase(),
		events.ParticipantLeftV1.ToBase(),
		events.MessageAcceptedV1.ToBase(),
		events.AlertV1.ToBase(),
	}
}

// Start verifies Redis when configured and starts the liveness reaper.
func (m *Module) Start(ctx context.Context) error {
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis at %s: %w", m.cfg.RedisAddr, err)
		}
		m.logger.Info("Connected to Redis for flood control", "addr", m.cfg.RedisAddr)
	}

	// The reaper outlives the start context.
	m.service.Start(context.WithoutCancel(ctx))
	m.logger.Info("Collaboration module started",
		"maxMembers", m.service.MaxMembers(),
		"tokenAuth", m.cfg.TokenAuthEnabled())
	return nil
}

// Stop halts the reaper and releases Redis.
func (m *Module) Stop(_ context.Context) error {
	m.service.Stop()
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("Failed to close Redis client", "error", err)
		}
	}
	m.logger.Info("Collaboration module stopped")
	return nil
}

// Health reports live connection and room counts.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	details := m.service.Stats()
	details["history"] = m.history.get() != nil

	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return mono.HealthStatus{
				Healthy: false,
				Message: fmt.Sprintf("redis ping failed: %v", err),
				Details: details,
			}
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// Service returns the collaboration service.
func (m *Module) Service() *Service {
	return m.service
}

// History returns the history port. Calls fail with ErrHistoryUnavailable
// until the history module is wired.
func (m *Module) History() history.HistoryPort {
	return m.history
}

// historyLink forwards to the history adapter, which only exists after the
// framework delivered the history service container.
type historyLink struct {
	mu   sync.RWMutex
	port history.HistoryPort
}

var _ history.HistoryPort = (*historyLink)(nil)

func (l *historyLink) set(port history.HistoryPort) {
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
}

func (l *historyLink) get() history.HistoryPort {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port
}

func (l *historyLink) Append(ctx context.Context, msg collab.Message) error {
	port := l.get()
	if port == nil {
		return ErrHistoryUnavailable
	}
	return port.Append(ctx, msg)
}

func (l *historyLink) Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error) {
	port := l.get()
	if port == nil {
		return nil, ErrHistoryUnavailable
	}
	return port.Recent(ctx, key, limit)
}

func (l *historyLink) SaveSnapshot(ctx context.Context, key collab.RoomKey, data json.RawMessage, savedBy string) (*history.Snapshot, error) {
	port := l.get()
	if port == nil {
		return nil, ErrHistoryUnavailable
	}
	return port.SaveSnapshot(ctx, key, data, savedBy)
}

func (l *historyLink) LoadSnapshot(ctx context.Context, key collab.RoomKey) (*history.Snapshot, error) {
	port := l.get()
	if port == nil {
		return nil, ErrHistoryUnavailable
	}
	return port.LoadSnapshot(ctx, key)
}
