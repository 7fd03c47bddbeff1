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

// ClassificationStorage implements the ClassificationStorage interface for Badger
type ClassificationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewClassificationStorage creates a new ClassificationStorage instance
func NewClassificationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ClassificationStorage {
	return &ClassificationStorage{
		db:     db,
		logger: logger,
	}
}

// CreateClassification inserts the one-per-comment intent record. A second
// insert returns interfaces.ErrDuplicate.
func (s *ClassificationStorage) CreateClassification(ctx context.Context, c *models.Classification) error {
	if c.CommentID == "" {
		return fmt.Errorf("classification comment id is required")
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if err := s.db.Store().Insert(c.CommentID, c); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create classification: %w", err)
	}
	return nil
}

func (s *ClassificationStorage) GetClassification(ctx context.Context, commentID string) (*models.Classification, error) {
	var c models.Classification
	if err := s.db.Store().Get(commentID, &c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return &c, nil
}

func (s *ClassificationStorage) UpdateClassification(ctx context.Context, c *models.Classification) error {
	c.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(c.CommentID, c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update classification: %w", err)
	}
	return nil
}

// ListStale returns processing records untouched since the cutoff. These were
// abandoned by crashed workers and are safe to re-drive.
func (s *ClassificationStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error) {
	return s.listByStatusBefore(models.StatusProcessing, cutoff, limit)
}

// ListRetryable returns retry-status records whose re-drive task never fired,
// judged by no update since the cutoff. The scheduler sweep re-enqueues them.
func (s *ClassificationStorage) ListRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error) {
	return s.listByStatusBefore(models.StatusRetry, cutoff, limit)
}

func (s *ClassificationStorage) listByStatusBefore(status models.ProcessingStatus, cutoff time.Time, limit int) ([]*models.Classification, error) {
	query := badgerhold.Where("ProcessingStatus").Eq(status).Index("ProcessingStatus").
		And("UpdatedAt").Lt(cutoff)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.Classification
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list %s classifications: %w", status, err)
	}

	result := make([]*models.Classification, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
