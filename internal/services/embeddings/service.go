package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Service generates embeddings for catalog entries and search queries. The
// provider returns unit-length vectors; this layer owns the text shaping and
// the dimension contract with the catalog store.
type Service struct {
	llmService interfaces.LLMService
	dimension  int
	logger     arbor.ILogger
}

// NewService creates the embedding service.
func NewService(llmService interfaces.LLMService, dimension int, logger arbor.ILogger) *Service {
	return &Service{
		llmService: llmService,
		dimension:  dimension,
		logger:     logger,
	}
}

// GenerateEmbedding creates a vector embedding for text.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	start := time.Now()
	embedding, err := s.llmService.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(embedding) == 0 {
		return nil, fmt.Errorf("provider returned empty embedding")
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(embedding), s.dimension)
	}

	s.logger.Debug().
		Int("embedding_dim", len(embedding)).
		Int("text_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Generated embedding")

	return embedding, nil
}

// EmbedEntry generates and sets the embedding for a catalog entry.
func (s *Service) EmbedEntry(ctx context.Context, entry *models.CatalogEntry) error {
	embedding, err := s.GenerateEmbedding(ctx, entry.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed catalog entry %s: %w", entry.ID, err)
	}

	entry.Embedding = embedding
	return nil
}

// EmbedEntries generates embeddings for multiple entries, stopping at the
// first failure so a partial import is visible rather than silent.
func (s *Service) EmbedEntries(ctx context.Context, entries []*models.CatalogEntry) error {
	for i, entry := range entries {
		if err := s.EmbedEntry(ctx, entry); err != nil {
			s.logger.Error().
				Err(err).
				Str("entry_id", entry.ID).
				Int("index", i).
				Msg("Failed to embed catalog entry")
			return err
		}
	}
	return nil
}

// GenerateQueryEmbedding generates an embedding for a search query. Queries
// embed as-is; the catalog side embeds title plus description.
func (s *Service) GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, query)
}

// Dimension returns the embedding dimension the catalog store expects.
func (s *Service) Dimension() int {
	return s.dimension
}
