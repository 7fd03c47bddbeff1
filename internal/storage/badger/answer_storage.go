package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// ReplyIndex reserves a platform reply id globally, keyed by the reply id
// itself. Inserting a second reservation for the same id fails, which is the
// uniqueness constraint that makes dispatch idempotent across crashes and
// duplicate deliveries.
type ReplyIndex struct {
	ReplyID   string `badgerhold:"key"`
	CommentID string
	CreatedAt time.Time
}

// AnswerStorage implements the AnswerStorage interface for Badger
type AnswerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAnswerStorage creates a new AnswerStorage instance
func NewAnswerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AnswerStorage {
	return &AnswerStorage{
		db:     db,
		logger: logger,
	}
}

// CreateAnswer inserts the one-per-comment answer record. A second insert
// returns interfaces.ErrDuplicate.
func (s *AnswerStorage) CreateAnswer(ctx context.Context, a *models.Answer) error {
	if a.CommentID == "" {
		return fmt.Errorf("answer comment id is required")
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := s.db.Store().Insert(a.CommentID, a); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create answer: %w", err)
	}
	return nil
}

func (s *AnswerStorage) GetAnswer(ctx context.Context, commentID string) (*models.Answer, error) {
	var a models.Answer
	if err := s.db.Store().Get(commentID, &a); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &a, nil
}

func (s *AnswerStorage) UpdateAnswer(ctx context.Context, a *models.Answer) error {
	a.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(a.CommentID, a); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update answer: %w", err)
	}
	return nil
}

// MarkReplySent reserves the reply id and records the send on the answer in
// one transaction. Either both writes commit or neither does; a reply id that
// is already reserved surfaces interfaces.ErrDuplicate and leaves the answer
// untouched.
func (s *AnswerStorage) MarkReplySent(ctx context.Context, commentID, replyID string) error {
	if replyID == "" {
		return fmt.Errorf("reply id is required")
	}

	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var a models.Answer
		if err := s.db.Store().TxGet(tx, commentID, &a); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get answer: %w", err)
		}

		idx := ReplyIndex{
			ReplyID:   replyID,
			CommentID: commentID,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.Store().TxInsert(tx, replyID, &idx); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to reserve reply id: %w", err)
		}

		a.MarkReplySent(replyID)
		if err := s.db.Store().TxUpdate(tx, commentID, &a); err != nil {
			return fmt.Errorf("failed to record reply: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) || errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark reply sent for comment %s: %w", commentID, err)
	}
	return nil
}

// GetByReplyID resolves the answer whose dispatch produced the given platform
// reply id.
func (s *AnswerStorage) GetByReplyID(ctx context.Context, replyID string) (*models.Answer, error) {
	var idx ReplyIndex
	if err := s.db.Store().Get(replyID, &idx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reply index: %w", err)
	}
	return s.GetAnswer(ctx, idx.CommentID)
}

// ListStale returns processing answers untouched since the cutoff, abandoned
// by crashed workers.
func (s *AnswerStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Answer, error) {
	query := badgerhold.Where("ProcessingStatus").Eq(models.StatusProcessing).Index("ProcessingStatus").
		And("UpdatedAt").Lt(cutoff)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.Answer
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list stale answers: %w", err)
	}

	result := make([]*models.Answer, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
