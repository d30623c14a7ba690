// Package sqlstore persists relay messages in SQLite through GORM.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Record is the stored form of a message.
type Record struct {
	ID         string    `gorm:"primarykey;size:36"`
	RoomID     string    `gorm:"size:100;not null;index:idx_messages_room_time,priority:1"`
	Seq        uint64    `gorm:"not null"`
	SenderID   string    `gorm:"size:255;not null"`
	SenderName string    `gorm:"size:255"`
	Payload    string    `gorm:"type:text;not null"`
	Timestamp  time.Time `gorm:"not null;index:idx_messages_room_time,priority:2"`
	CreatedAt  time.Time
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "messages"
}

func fromMessage(msg relay.Message) Record {
	return Record{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		Seq:        msg.Seq,
		SenderID:   msg.Sender.ID,
		SenderName: msg.Sender.DisplayName,
		Payload:    msg.Payload,
		Timestamp:  msg.Timestamp,
	}
}

func (r Record) message() relay.Message {
	return relay.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Sender:    relay.Identity{ID: r.SenderID, DisplayName: r.SenderName},
		Seq:       r.Seq,
		Payload:   r.Payload,
		Timestamp: r.Timestamp.UTC(),
	}
}

// Store appends messages to the messages table.
type Store struct {
	db *gorm.DB
}

// Open opens the SQLite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores msg. Re-appending a stored id is a no-op so retries are safe.
func (s *Store) Append(ctx context.Context, msg relay.Message) error {
	rec := fromMessage(msg)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest stored messages for roomID,
// oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]relay.Message, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC").
		Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	out := make([]relay.Message, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec.message()
	}
	return out, nil
}

// Count returns the number of stored messages for roomID.
func (s *Store) Count(ctx context.Context, roomID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
