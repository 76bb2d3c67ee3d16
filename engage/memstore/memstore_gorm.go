package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/bluesky-social/banter/engage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRecord struct {
	ID             string `gorm:"primaryKey"`
	ParentID       string `gorm:"index"`
	AuthorID       string `gorm:"index"`
	AuthorHandle   string
	Text           string
	ConversationID string `gorm:"index"`
	CID            string
	CreatedAt      time.Time

	// when the agent first stored the message
	RecordedAt time.Time
}

func (MessageRecord) TableName() string {
	return "message_memory"
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Runs schema migration; db is usually from cliutil.SetupDatabase.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&MessageRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MessageRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) Create(ctx context.Context, msg engage.Message) error {
	rec := MessageRecord{
		ID:             msg.ID,
		ParentID:       msg.ParentID,
		AuthorID:       msg.AuthorID,
		AuthorHandle:   msg.AuthorHandle,
		Text:           msg.Text,
		ConversationID: msg.ConversationID,
		CID:            msg.CID,
		CreatedAt:      msg.CreatedAt,
		RecordedAt:     time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*engage.Message, error) {
	var rec MessageRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &engage.Message{
		ID:             rec.ID,
		ParentID:       rec.ParentID,
		AuthorID:       rec.AuthorID,
		AuthorHandle:   rec.AuthorHandle,
		Text:           rec.Text,
		ConversationID: rec.ConversationID,
		CID:            rec.CID,
		CreatedAt:      rec.CreatedAt,
	}, nil
}
