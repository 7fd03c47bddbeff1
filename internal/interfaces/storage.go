package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Storage error sentinels. Callers branch on these with errors.Is.
var (
	// ErrDuplicate is returned when a create or reservation hits an
	// existing record.
	ErrDuplicate = errors.New("record already exists")
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// CommentStorage persists platform comments. CreateComment is set-if-absent:
// a duplicate webhook delivery must surface ErrDuplicate, never a second
// record.
type CommentStorage interface {
	CreateComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	UpdateComment(ctx context.Context, comment *models.Comment) error
	SetPipelineState(ctx context.Context, id string, state models.PipelineState) error
	SetConversationID(ctx context.Context, id string, conversationID string) error
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Comment, error)
	CountComments(ctx context.Context) (int, error)
}

// ClassificationStorage persists intent records, one per comment.
type ClassificationStorage interface {
	CreateClassification(ctx context.Context, c *models.Classification) error
	GetClassification(ctx context.Context, commentID string) (*models.Classification, error)
	UpdateClassification(ctx context.Context, c *models.Classification) error
	// ListStale returns processing records untouched since the cutoff,
	// abandoned by crashed workers.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error)
	// ListRetryable returns retry-status records whose backoff has elapsed.
	ListRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error)
}

// AnswerStorage persists generated answers and their dispatch tracking.
// MarkReplySent reserves the reply id under the global uniqueness constraint
// in the same transaction that updates the answer; a duplicate reservation
// surfaces ErrDuplicate, which dispatch treats as already-sent.
type AnswerStorage interface {
	CreateAnswer(ctx context.Context, a *models.Answer) error
	GetAnswer(ctx context.Context, commentID string) (*models.Answer, error)
	UpdateAnswer(ctx context.Context, a *models.Answer) error
	MarkReplySent(ctx context.Context, commentID, replyID string) error
	// GetByReplyID resolves which comment owns a platform reply id. Used by
	// the webhook skip rules to drop replies to the bot's own comments.
	GetByReplyID(ctx context.Context, replyID string) (*models.Answer, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Answer, error)
}

// MediaStorage persists media posts and their vision enrichment state.
type MediaStorage interface {
	CreateMedia(ctx context.Context, m *models.MediaPost) error
	GetMedia(ctx context.Context, id string) (*models.MediaPost, error)
	UpdateMedia(ctx context.Context, m *models.MediaPost) error
}

// CatalogStorage persists catalog entries for semantic search. The pipeline
// only reads; the importer writes.
type CatalogStorage interface {
	UpsertEntry(ctx context.Context, e *models.CatalogEntry) error
	GetEntry(ctx context.Context, id string) (*models.CatalogEntry, error)
	// ListActive returns active entries, optionally filtered by exact
	// category. An empty category means no filter.
	ListActive(ctx context.Context, category string) ([]*models.CatalogEntry, error)
	CountActive(ctx context.Context) (int, error)
	DeleteEntry(ctx context.Context, id string) error
}

// StorageManager aggregates all storages over one database handle.
type StorageManager interface {
	CommentStorage() CommentStorage
	ClassificationStorage() ClassificationStorage
	AnswerStorage() AnswerStorage
	MediaStorage() MediaStorage
	CatalogStorage() CatalogStorage
	// DB exposes the underlying store handle so the queue and lock manager
	// can share the same database.
	DB() interface{}
	Close() error
}
