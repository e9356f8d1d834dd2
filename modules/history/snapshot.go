package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"

	"github.com/example/collab-realtime/domain/collab"
)

// SnapshotBucket is the name of the object store bucket holding whiteboard
// snapshots.
const SnapshotBucket = "whiteboard-snapshots"

// Snapshot is the saved state of a room's shared canvas.
type Snapshot struct {
	Room    collab.RoomKey  `json:"room"`
	Data    json.RawMessage `json:"data"`
	SavedBy string          `json:"savedBy"`
	SavedAt time.Time       `json:"savedAt"`
	Size    int64           `json:"size"`
	Digest  string          `json:"digest,omitempty"`
}

// SnapshotStore keeps one snapshot per room in a JetStream object store
// bucket. A save replaces the previous snapshot.
type SnapshotStore struct {
	bucket fsjetstream.FileStoragePort
}

// NewSnapshotStore wraps a bucket.
func NewSnapshotStore(bucket fsjetstream.FileStoragePort) *SnapshotStore {
	return &SnapshotStore{bucket: bucket}
}

// snapshotObjectName maps a room key to an object name. The resource id is
// escaped so that it cannot collide with another room's prefix.
func snapshotObjectName(key collab.RoomKey) string {
	return fmt.Sprintf("%s/%s.json", key.Type, url.PathEscape(key.ResourceID))
}

// Save stores data as the snapshot of key.
func (s *SnapshotStore) Save(ctx context.Context, key collab.RoomKey, data json.RawMessage, savedBy string) (Snapshot, error) {
	if !json.Valid(data) {
		return Snapshot{}, fmt.Errorf("%w: snapshot must be valid JSON", collab.ErrInvalidMessage)
	}

	savedAt := time.Now().UTC()
	objInfo, err := s.bucket.Put(ctx, snapshotObjectName(key), data,
		fsjetstream.WithHeaders(map[string]string{
			"Content-Type": "application/json",
			"Room-ID":      key.String(),
			"Saved-By":     savedBy,
			"Saved-At":     savedAt.Format(time.RFC3339Nano),
		}),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	return Snapshot{
		Room:    key,
		Data:    data,
		SavedBy: savedBy,
		SavedAt: savedAt,
		Size:    int64(objInfo.Size),
		Digest:  objInfo.Digest,
	}, nil
}

// Load returns the snapshot of key or ErrSnapshotNotFound.
func (s *SnapshotStore) Load(_ context.Context, key collab.RoomKey) (Snapshot, error) {
	name := snapshotObjectName(key)
	objects, err := s.bucket.List(fsjetstream.WithPrefix(name))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var found *fsjetstream.ObjectInfo
	for i := range objects {
		if objects[i].Name == name {
			found = &objects[i]
			break
		}
	}
	if found == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	data, err := s.bucket.Get(name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap := Snapshot{
		Room:    key,
		Data:    data,
		SavedBy: found.Headers["Saved-By"],
		SavedAt: found.ModTime,
		Size:    int64(found.Size),
		Digest:  found.Digest,
	}
	if ts, err := time.Parse(time.RFC3339Nano, found.Headers["Saved-At"]); err == nil {
		snap.SavedAt = ts
	}
	return snap, nil
}

// Delete removes the snapshot of key. Deleting a missing snapshot is not an
// error.
func (s *SnapshotStore) Delete(ctx context.Context, key collab.RoomKey) error {
	if _, err := s.Load(ctx, key); err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil
		}
		return err
	}
	if err := s.bucket.Delete(snapshotObjectName(key)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
