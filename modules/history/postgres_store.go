package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/collab-realtime/domain/collab"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS collab_messages (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	room_type        TEXT NOT NULL,
	resource_id      TEXT NOT NULL,
	connection_id    TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	user_name        TEXT NOT NULL,
	user_role        TEXT NOT NULL,
	establishment_id TEXT NOT NULL,
	type             TEXT NOT NULL,
	payload          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collab_messages_room_seq
	ON collab_messages (room_type, resource_id, seq DESC);
`

const insertMessage = `
INSERT INTO collab_messages
	(id, room_type, resource_id, connection_id, user_id, user_name, user_role, establishment_id, type, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectRecent = `
SELECT id, room_type, resource_id, connection_id, user_id, user_name, user_role, establishment_id, type, payload, created_at
FROM collab_messages
WHERE room_type = $1 AND resource_id = $2
ORDER BY seq DESC
LIMIT $3`

// PostgresStore persists messages in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and creates the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createMessagesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append inserts msg.
func (s *PostgresStore) Append(ctx context.Context, msg collab.Message) error {
	_, err := s.pool.Exec(ctx, insertMessage,
		msg.ID,
		string(msg.Room.Type),
		msg.Room.ResourceID,
		string(msg.SenderID),
		msg.Sender.UserID,
		msg.Sender.UserName,
		msg.Sender.UserRole,
		msg.Sender.EstablishmentID,
		string(msg.Type),
		[]byte(msg.Payload),
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of key, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error) {
	rows, err := s.pool.Query(ctx, selectRecent, string(key.Type), key.ResourceID, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageRecord, error) {
		var r MessageRecord
		err := row.Scan(&r.ID, &r.RoomType, &r.ResourceID, &r.ConnectionID, &r.UserID,
			&r.UserName, &r.UserRole, &r.EstablishmentID, &r.Type, &r.Payload, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}

	out := make([]collab.Message, len(records))
	for i := range records {
		out[len(records)-1-i] = records[i].toMessage()
	}
	return out, nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Driver returns "postgres".
func (s *PostgresStore) Driver() string { return "postgres" }
