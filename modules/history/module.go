// Package history is the persistence collaborator: the durable message log
// behind the router and the whiteboard snapshot bucket.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/collab-realtime/config"
	"github.com/example/collab-realtime/domain/collab"
)

// StoragePluginAlias is the alias the fs-jetstream plugin is registered
// under.
const StoragePluginAlias = "storage"

// Module exposes the message log and snapshots as request-reply services.
type Module struct {
	cfg       *config.Config
	store     Store
	storage   *fsjetstream.PluginModule
	snapshots *SnapshotStore
	logger    types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
)

// NewModule creates the history module. The store is opened on Start
// according to cfg.HistoryDriver.
func NewModule(cfg *config.Config, logger types.Logger) *Module {
	return &Module{cfg: cfg, logger: logger}
}

// NewModuleWithStore creates a history module over an already opened store.
func NewModuleWithStore(store Store, logger types.Logger) *Module {
	return &Module{store: store, logger: logger}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "history"
}

// SetPlugin receives the storage plugin from the framework.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != StoragePluginAlias {
		return
	}
	storage, ok := plugin.(*fsjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for storage",
			"alias", alias,
			"expected", "*fsjetstream.PluginModule")
		return
	}
	m.storage = storage
	m.logger.Info("Received storage plugin", "alias", alias)
}

// Start opens the message store and the snapshot bucket.
func (m *Module) Start(ctx context.Context) error {
	if m.store == nil {
		store, err := m.openStore(ctx)
		if err != nil {
			return err
		}
		m.store = store
	}

	if m.storage != nil {
		bucket := m.storage.Bucket(SnapshotBucket)
		if bucket == nil {
			return fmt.Errorf("bucket '%s' not found in storage plugin", SnapshotBucket)
		}
		m.snapshots = NewSnapshotStore(bucket)
	} else {
		m.logger.Warn("Storage plugin not registered, whiteboard snapshots disabled")
	}

	m.logger.Info("History module started", "driver", m.store.Driver())
	return nil
}

func (m *Module) openStore(ctx context.Context) (Store, error) {
	switch m.cfg.HistoryDriver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(m.cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		logLevel := logger.Silent
		if m.cfg.DBDebug {
			logLevel = logger.Info
		}
		db, err := gorm.Open(sqlite.Open(m.cfg.DBPath), &gorm.Config{
			Logger: logger.Default.LogMode(logLevel),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return NewGormStore(db, config.DriverSQLite)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, m.cfg.DatabaseURL)
	default:
		return NewMemoryStore(0), nil
	}
}

// Stop closes the message store.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close history store: %w", err)
	}
	m.logger.Info("History module stopped")
	return nil
}

// Health pings the message store.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.store == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "store not initialized",
		}
	}
	if err := m.store.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("store ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver":    m.store.Driver(),
			"snapshots": m.snapshots != nil,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAppend, json.Unmarshal, json.Marshal, m.handleAppend,
	); err != nil {
		return fmt.Errorf("failed to register append service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecent, json.Unmarshal, json.Marshal, m.handleRecent,
	); err != nil {
		return fmt.Errorf("failed to register recent service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSaveSnapshot, json.Unmarshal, json.Marshal, m.handleSaveSnapshot,
	); err != nil {
		return fmt.Errorf("failed to register save-snapshot service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceLoadSnapshot, json.Unmarshal, json.Marshal, m.handleLoadSnapshot,
	); err != nil {
		return fmt.Errorf("failed to register load-snapshot service: %w", err)
	}

	m.logger.Info("Registered services",
		"services", "services.history.{append,recent,save-snapshot,load-snapshot}")
	return nil
}

func (m *Module) handleAppend(ctx context.Context, req AppendRequest, _ *mono.Msg) (AppendResponse, error) {
	if req.Message.ID == "" {
		return AppendResponse{Error: "message id is required", Code: codeInvalid}, nil
	}
	if err := req.Message.Room.Validate(); err != nil {
		return AppendResponse{Error: err.Error(), Code: codeInvalid}, nil
	}
	if err := m.store.Append(ctx, req.Message); err != nil {
		m.logger.Error("Failed to append message",
			"roomID", req.Message.Room.String(),
			"messageID", req.Message.ID,
			"error", err)
		return AppendResponse{Error: err.Error(), Code: codeStorage}, nil
	}
	return AppendResponse{Stored: true}, nil
}

func (m *Module) handleRecent(ctx context.Context, req RecentRequest, _ *mono.Msg) (RecentResponse, error) {
	if err := req.Room.Validate(); err != nil {
		return RecentResponse{Error: err.Error(), Code: codeInvalid}, nil
	}
	messages, err := m.store.Recent(ctx, req.Room, req.Limit)
	if err != nil {
		return RecentResponse{Error: err.Error(), Code: codeStorage}, nil
	}
	return RecentResponse{Messages: messages}, nil
}

func (m *Module) handleSaveSnapshot(ctx context.Context, req SaveSnapshotRequest, _ *mono.Msg) (SnapshotResponse, error) {
	if m.snapshots == nil {
		return SnapshotResponse{Error: "snapshots are disabled", Code: codeStorage}, nil
	}
	if req.Room.Type != collab.RoomTypeWhiteboard {
		return SnapshotResponse{Error: "snapshots are only kept for whiteboard rooms", Code: codeInvalid}, nil
	}
	if err := req.Room.Validate(); err != nil {
		return SnapshotResponse{Error: err.Error(), Code: codeInvalid}, nil
	}
	snap, err := m.snapshots.Save(ctx, req.Room, req.Data, req.SavedBy)
	if err != nil {
		code := codeStorage
		if errors.Is(err, collab.ErrInvalidMessage) {
			code = codeInvalid
		}
		return SnapshotResponse{Error: err.Error(), Code: code}, nil
	}
	m.logger.Info("Saved whiteboard snapshot", "roomID", req.Room.String(), "size", snap.Size)
	return SnapshotResponse{Snapshot: &snap}, nil
}

func (m *Module) handleLoadSnapshot(ctx context.Context, req LoadSnapshotRequest, _ *mono.Msg) (SnapshotResponse, error) {
	if m.snapshots == nil {
		return SnapshotResponse{Error: "snapshots are disabled", Code: codeStorage}, nil
	}
	if err := req.Room.Validate(); err != nil {
		return SnapshotResponse{Error: err.Error(), Code: codeInvalid}, nil
	}
	snap, err := m.snapshots.Load(ctx, req.Room)
	if err != nil {
		code := codeStorage
		if errors.Is(err, ErrSnapshotNotFound) {
			code = codeNotFound
		}
		return SnapshotResponse{Error: err.Error(), Code: code}, nil
	}
	return SnapshotResponse{Snapshot: &snap}, nil
}
