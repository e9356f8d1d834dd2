package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"golang.org/x/sync/singleflight"

	"github.com/example/collab-realtime/domain/collab"
)

// HistoryPort is how other modules reach the persistence collaborator.
type HistoryPort interface {
	Append(ctx context.Context, msg collab.Message) error
	Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error)
	SaveSnapshot(ctx context.Context, key collab.RoomKey, data json.RawMessage, savedBy string) (*Snapshot, error)
	LoadSnapshot(ctx context.Context, key collab.RoomKey) (*Snapshot, error)
}

// ErrInvalidRequest is returned when the history module rejected a request
// as malformed.
var ErrInvalidRequest = errors.New("invalid history request")

// Adapter implements HistoryPort over the service container. Concurrent
// identical history reads share one request.
type Adapter struct {
	container mono.ServiceContainer
	reads     singleflight.Group
}

// NewAdapter creates a new Adapter.
func NewAdapter(container mono.ServiceContainer) *Adapter {
	if container == nil {
		panic("history: ServiceContainer is nil")
	}
	return &Adapter{container: container}
}

// Append persists msg.
func (a *Adapter) Append(ctx context.Context, msg collab.Message) error {
	req := AppendRequest{Message: msg}
	var resp AppendResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceAppend,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if resp.Error != "" {
		return responseError(resp.Code, resp.Error)
	}
	return nil
}

// Recent returns the newest limit messages of key, oldest first.
func (a *Adapter) Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error) {
	limit = NormalizeLimit(limit)
	v, err, _ := a.reads.Do(key.String()+"#"+strconv.Itoa(limit), func() (any, error) {
		req := RecentRequest{Room: key, Limit: limit}
		var resp RecentResponse
		if err := helper.CallRequestReplyService(
			ctx,
			a.container,
			ServiceRecent,
			json.Marshal,
			json.Unmarshal,
			&req,
			&resp,
		); err != nil {
			return nil, fmt.Errorf("failed to get history: %w", err)
		}
		if resp.Error != "" {
			return nil, responseError(resp.Code, resp.Error)
		}
		return resp.Messages, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]collab.Message)
	out := make([]collab.Message, len(shared))
	copy(out, shared)
	return out, nil
}

// SaveSnapshot stores a whiteboard snapshot.
func (a *Adapter) SaveSnapshot(ctx context.Context, key collab.RoomKey, data json.RawMessage, savedBy string) (*Snapshot, error) {
	req := SaveSnapshotRequest{Room: key, Data: data, SavedBy: savedBy}
	var resp SnapshotResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceSaveSnapshot,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if resp.Error != "" {
		return nil, responseError(resp.Code, resp.Error)
	}
	return resp.Snapshot, nil
}

// LoadSnapshot fetches a whiteboard snapshot.
func (a *Adapter) LoadSnapshot(ctx context.Context, key collab.RoomKey) (*Snapshot, error) {
	req := LoadSnapshotRequest{Room: key}
	var resp SnapshotResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceLoadSnapshot,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if resp.Error != "" {
		return nil, responseError(resp.Code, resp.Error)
	}
	return resp.Snapshot, nil
}

func responseError(code, message string) error {
	switch code {
	case codeNotFound:
		return ErrSnapshotNotFound
	case codeInvalid:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	}
	return errors.New(message)
}
