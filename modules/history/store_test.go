package history

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/collab-realtime/domain/collab"
)

var (
	board  = collab.RoomKey{Type: collab.RoomTypeWhiteboard, ResourceID: "5"}
	course = collab.RoomKey{Type: collab.RoomTypeCourse, ResourceID: "5"}
)

func message(key collab.RoomKey, text string, at time.Time) collab.Message {
	payload, _ := json.Marshal(collab.ChatMessageData{Message: text})
	return collab.Message{
		ID:        uuid.New().String(),
		Room:      key,
		SenderID:  "c1",
		Sender:    collab.Identity{UserID: "u1", UserName: "Alice", UserRole: "teacher", EstablishmentID: "e1"},
		Type:      collab.TypeChatMessage,
		Payload:   payload,
		CreatedAt: at,
	}
}

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGormStore(setupTestDB(t), "sqlite")
	if err != nil {
		t.Fatalf("NewGormStore() error = %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(0),
		"sqlite": gormStore,
	}
}

func TestStore_RecentKeepsAcceptanceOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

			var want []string
			for i := 0; i < 5; i++ {
				// Identical timestamps must not disturb the order.
				msg := message(board, fmt.Sprintf("m%d", i), base)
				if err := store.Append(ctx, msg); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
				want = append(want, msg.ID)
			}
			if err := store.Append(ctx, message(course, "other room", base)); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			got, err := store.Recent(ctx, board, 3)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Recent() returned %d messages, want 3", len(got))
			}
			for i, msg := range got {
				if msg.ID != want[2+i] {
					t.Errorf("Recent()[%d].ID = %s, want %s", i, msg.ID, want[2+i])
				}
				if msg.Room != board {
					t.Errorf("Recent()[%d].Room = %v, want %v", i, msg.Room, board)
				}
			}
			if got[0].Sender.UserName != "Alice" || got[0].SenderID != "c1" {
				t.Errorf("sender not preserved: %+v", got[0])
			}

			var data collab.ChatMessageData
			if err := json.Unmarshal(got[2].Payload, &data); err != nil || data.Message != "m4" {
				t.Errorf("payload = %s, want m4", got[2].Payload)
			}
			if err := store.Ping(ctx); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func TestStore_EmptyRoom(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Recent(context.Background(), board, 0)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Recent() = %d messages, want 0", len(got))
			}
		})
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		msg := message(board, "x", time.Now())
		_ = store.Append(ctx, msg)
		ids = append(ids, msg.ID)
	}

	got, _ := store.Recent(ctx, board, 10)
	if len(got) != 3 || got[0].ID != ids[2] {
		t.Errorf("Recent() kept %d messages starting at %v, want last 3", len(got), got)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-1, DefaultLimit},
		{10, 10},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.in); got != tt.want {
			t.Errorf("NormalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotObjectName(t *testing.T) {
	a := snapshotObjectName(collab.RoomKey{Type: collab.RoomTypeWhiteboard, ResourceID: "a/b"})
	b := snapshotObjectName(collab.RoomKey{Type: collab.RoomTypeWhiteboard, ResourceID: "a"})
	if a == b {
		t.Error("distinct resource ids must map to distinct objects")
	}
	if a != "whiteboard/a%2Fb.json" {
		t.Errorf("snapshotObjectName() = %q, want %q", a, "whiteboard/a%2Fb.json")
	}
}
