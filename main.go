package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"

	"github.com/example/collab-realtime/config"
	"github.com/example/collab-realtime/modules/api"
	"github.com/example/collab-realtime/modules/history"
	"github.com/example/collab-realtime/modules/notify"
	"github.com/example/collab-realtime/modules/session"
)

func main() {
	log.Println("=== Collab Realtime - Fiber + WebSocket + EventBus ===")

	cfg := config.Load()

	// Create mono application with embedded NATS JetStream
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(cfg.JetStreamDir),
		mono.WithNATSPort(cfg.NATSPort),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Whiteboard snapshots live in a JetStream object store bucket
	storagePlugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{
			{
				Name:        history.SnapshotBucket,
				Description: "Whiteboard snapshot storage bucket",
				MaxBytes:    256 * 1024 * 1024, // 256MB max storage
				Storage:     fsjetstream.FileStorage,
				Compression: true,
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create storage plugin: %v", err)
	}
	if err := app.RegisterPlugin(storagePlugin, history.StoragePluginAlias); err != nil {
		log.Fatalf("Failed to register storage plugin: %v", err)
	}

	// Create modules
	historyModule := history.NewModule(cfg, app.Logger())
	notifyModule := notify.NewModule(notify.DefaultCapacity, app.Logger())
	collabModule, err := session.NewModule(cfg, app.Logger())
	if err != nil {
		log.Fatalf("Failed to create collab module: %v", err)
	}
	apiModule := api.NewModule(cfg, collabModule, notifyModule, app.Logger(), historyModule)

	// Register modules with the framework.
	// - history: message log + snapshots (ServiceProviderModule + UsePluginModule)
	// - notify: alert sink (EventConsumerModule)
	// - collab: registry, rooms, presence and router (DependentModule on history + EventEmitterModule)
	// - api: driving adapter (Fiber HTTP/WebSocket server over collab)
	app.Register(historyModule)
	app.Register(notifyModule)
	app.Register(collabModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg *config.Config) {
	auth := "identity claim (query parameters)"
	if cfg.TokenAuthEnabled() {
		auth = "signed token (JWT_SECRET set)"
	}
	flood := "in-memory token bucket"
	if cfg.RedisAddr != "" {
		flood = "Redis sliding window at " + cfg.RedisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: nats://localhost:%d", cfg.NATSPort)
	log.Printf("  - History store: %s", cfg.HistoryDriver)
	log.Printf("  - Handshake identity: %s", auth)
	log.Printf("  - Flood control: %s (%d per %s)", flood, cfg.RateLimit, cfg.RateWindow)
	log.Printf("  - Room capacity: %d, liveness timeout: %s", cfg.RoomMaxMembers, cfg.LivenessTimeout)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                                       - Health check")
	log.Println("  GET    /api/v1/rooms                                 - List active rooms")
	log.Println("  GET    /api/v1/rooms/:type/:resourceId/members       - Room participants")
	log.Println("  GET    /api/v1/rooms/:type/:resourceId/history       - Message history (?limit=)")
	log.Println("  PUT    /api/v1/rooms/whiteboard/:resourceId/snapshot - Save whiteboard snapshot")
	log.Println("  GET    /api/v1/rooms/whiteboard/:resourceId/snapshot - Load whiteboard snapshot")
	log.Println("  GET    /api/v1/alerts                                - Recent operational alerts")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Connect with: /ws?userId=..&userName=..&userRole=..&establishmentId=..[&token=..]")
	log.Println("  Message types: join_room, leave_room, chat_message, whiteboard_draw, text_change,")
	log.Println("                 cursor_move, typing_indicator, ping")
	log.Println("")
	log.Println("Long-poll fallback:")
	log.Println("  POST   /api/v1/poll/connect          - Handshake, returns connectionId")
	log.Println("  GET    /api/v1/poll/:connectionId    - Drain queued frames (?wait=seconds)")
	log.Println("  POST   /api/v1/poll/:connectionId    - Send one envelope")
	log.Println("  DELETE /api/v1/poll/:connectionId    - Disconnect")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
