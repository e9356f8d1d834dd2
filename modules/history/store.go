package history

import (
	"context"
	"errors"
	"sync"

	"github.com/example/collab-realtime/domain/collab"
)

// History read limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrSnapshotNotFound is returned when a room has no saved snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store is the durable message log. Append must not return before the
// message is stored; Recent returns the newest limit messages of a room,
// oldest first.
type Store interface {
	Append(ctx context.Context, msg collab.Message) error
	Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error)
	Ping(ctx context.Context) error
	Close() error
	Driver() string
}

// NormalizeLimit clamps a requested history size.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// MemoryStore keeps a bounded log per room in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[collab.RoomKey][]collab.Message
	maxPerRoom int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store keeping at most maxPerRoom messages per room.
func NewMemoryStore(maxPerRoom int) *MemoryStore {
	if maxPerRoom <= 0 {
		maxPerRoom = 1000
	}
	return &MemoryStore{
		messages:   make(map[collab.RoomKey][]collab.Message),
		maxPerRoom: maxPerRoom,
	}
}

// Append adds msg to its room log, evicting the oldest entries beyond the
// per-room bound.
func (s *MemoryStore) Append(_ context.Context, msg collab.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.messages[msg.Room], msg)
	if len(log) > s.maxPerRoom {
		log = log[len(log)-s.maxPerRoom:]
	}
	s.messages[msg.Room] = log
	return nil
}

// Recent returns the newest limit messages of key, oldest first.
func (s *MemoryStore) Recent(_ context.Context, key collab.RoomKey, limit int) ([]collab.Message, error) {
	limit = NormalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[key]
	start := 0
	if len(log) > limit {
		start = len(log) - limit
	}
	out := make([]collab.Message, len(log)-start)
	copy(out, log[start:])
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Driver returns "memory".
func (s *MemoryStore) Driver() string { return "memory" }
