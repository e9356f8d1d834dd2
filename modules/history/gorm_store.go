package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/example/collab-realtime/domain/collab"
)

// MessageRecord is the persisted form of a message. Seq preserves the
// acceptance order within the whole log.
type MessageRecord struct {
	Seq             uint64    `gorm:"primaryKey;autoIncrement"`
	ID              string    `gorm:"size:36;uniqueIndex;not null"`
	RoomType        string    `gorm:"size:32;index:idx_room_seq,priority:1;not null"`
	ResourceID      string    `gorm:"size:128;index:idx_room_seq,priority:2;not null"`
	ConnectionID    string    `gorm:"size:64;not null"`
	UserID          string    `gorm:"size:64;not null"`
	UserName        string    `gorm:"size:100;not null"`
	UserRole        string    `gorm:"size:32;not null"`
	EstablishmentID string    `gorm:"size:64;index;not null"`
	Type            string    `gorm:"size:32;not null"`
	Payload         []byte    `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for MessageRecord model.
func (MessageRecord) TableName() string {
	return "collab_messages"
}

func recordFromMessage(msg collab.Message) *MessageRecord {
	return &MessageRecord{
		ID:              msg.ID,
		RoomType:        string(msg.Room.Type),
		ResourceID:      msg.Room.ResourceID,
		ConnectionID:    string(msg.SenderID),
		UserID:          msg.Sender.UserID,
		UserName:        msg.Sender.UserName,
		UserRole:        msg.Sender.UserRole,
		EstablishmentID: msg.Sender.EstablishmentID,
		Type:            string(msg.Type),
		Payload:         []byte(msg.Payload),
		CreatedAt:       msg.CreatedAt,
	}
}

func (r *MessageRecord) toMessage() collab.Message {
	return collab.Message{
		ID:       r.ID,
		Room:     collab.RoomKey{Type: collab.RoomType(r.RoomType), ResourceID: r.ResourceID},
		SenderID: collab.ConnectionID(r.ConnectionID),
		Sender: collab.Identity{
			UserID:          r.UserID,
			UserName:        r.UserName,
			UserRole:        r.UserRole,
			EstablishmentID: r.EstablishmentID,
		},
		Type:      collab.MessageType(r.Type),
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
	}
}

// GormStore persists messages through GORM.
type GormStore struct {
	db     *gorm.DB
	driver string
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps db and runs migrations.
func NewGormStore(db *gorm.DB, driver string) (*GormStore, error) {
	if err := db.AutoMigrate(&MessageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &GormStore{db: db, driver: driver}, nil
}

// Append inserts msg.
func (s *GormStore) Append(ctx context.Context, msg collab.Message) error {
	if err := s.db.WithContext(ctx).Create(recordFromMessage(msg)).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of key, oldest first.
func (s *GormStore) Recent(ctx context.Context, key collab.RoomKey, limit int) ([]collab.Message, error) {
	var records []MessageRecord
	err := s.db.WithContext(ctx).
		Where("room_type = ? AND resource_id = ?", string(key.Type), key.ResourceID).
		Order("seq DESC").
		Limit(NormalizeLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	out := make([]collab.Message, len(records))
	for i := range records {
		out[len(records)-1-i] = records[i].toMessage()
	}
	return out, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Driver returns the configured driver name.
func (s *GormStore) Driver() string { return s.driver }
