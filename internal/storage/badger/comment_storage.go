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

// CommentStorage implements the CommentStorage interface for Badger
type CommentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCommentStorage creates a new CommentStorage instance
func NewCommentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CommentStorage {
	return &CommentStorage{
		db:     db,
		logger: logger,
	}
}

// CreateComment inserts a comment exactly once. A second insert with the same
// id returns interfaces.ErrDuplicate, which is how webhook redeliveries are
// deduplicated.
func (s *CommentStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	if err := comment.Validate(); err != nil {
		return fmt.Errorf("invalid comment: %w", err)
	}

	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now

	if err := s.db.Store().Insert(comment.ID, comment); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (s *CommentStorage) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := s.db.Store().Get(id, &comment); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return &comment, nil
}

func (s *CommentStorage) UpdateComment(ctx context.Context, comment *models.Comment) error {
	comment.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(comment.ID, comment); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update comment: %w", err)
	}
	return nil
}

// SetPipelineState moves a comment through the state machine. Setting the
// current state again is a no-op so redelivered tasks stay idempotent; any
// other illegal transition is rejected.
func (s *CommentStorage) SetPipelineState(ctx context.Context, id string, state models.PipelineState) error {
	comment, err := s.GetComment(ctx, id)
	if err != nil {
		return err
	}

	if comment.PipelineState == state {
		return nil
	}
	if !comment.PipelineState.CanTransition(state) {
		return fmt.Errorf("illegal pipeline transition %s -> %s for comment %s", comment.PipelineState, state, id)
	}

	comment.PipelineState = state
	return s.UpdateComment(ctx, comment)
}

func (s *CommentStorage) SetConversationID(ctx context.Context, id string, conversationID string) error {
	comment, err := s.GetComment(ctx, id)
	if err != nil {
		return err
	}
	comment.ConversationID = conversationID
	return s.UpdateComment(ctx, comment)
}

// ListByConversation returns a thread's comments in arrival order, oldest
// first, for bounded conversation context.
func (s *CommentStorage) ListByConversation(ctx context.Context, conversationID string) ([]*models.Comment, error) {
	var comments []models.Comment
	query := badgerhold.Where("ConversationID").Eq(conversationID).Index("ConversationID").SortBy("CreatedAt")
	if err := s.db.Store().Find(&comments, query); err != nil {
		return nil, fmt.Errorf("failed to list conversation %s: %w", conversationID, err)
	}

	result := make([]*models.Comment, len(comments))
	for i := range comments {
		result[i] = &comments[i]
	}
	return result, nil
}

func (s *CommentStorage) CountComments(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Comment{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return int(count), nil
}
