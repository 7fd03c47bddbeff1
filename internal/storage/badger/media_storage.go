package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// MediaStorage implements the MediaStorage interface for Badger
type MediaStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMediaStorage creates a new MediaStorage instance
func NewMediaStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MediaStorage {
	return &MediaStorage{
		db:     db,
		logger: logger,
	}
}

// CreateMedia inserts a media post exactly once. The first comment on a post
// wins the insert; later comments reuse the stored record.
func (s *MediaStorage) CreateMedia(ctx context.Context, m *models.MediaPost) error {
	if m.ID == "" {
		return fmt.Errorf("media id is required")
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	if err := s.db.Store().Insert(m.ID, m); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create media: %w", err)
	}
	return nil
}

func (s *MediaStorage) GetMedia(ctx context.Context, id string) (*models.MediaPost, error) {
	var m models.MediaPost
	if err := s.db.Store().Get(id, &m); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return &m, nil
}

func (s *MediaStorage) UpdateMedia(ctx context.Context, m *models.MediaPost) error {
	m.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(m.ID, m); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update media: %w", err)
	}
	return nil
}
