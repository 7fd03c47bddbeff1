package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Limit bounds for one search call. Zero means unset and takes the default.
const (
	defaultLimit = 5
	maxLimit     = 10
)

// QueryEmbedder generates query vectors. Satisfied by *embeddings.Service.
type QueryEmbedder interface {
	GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error)
}

// Service ranks catalog entries by semantic similarity to a query. Catalog
// embeddings and query embeddings are unit vectors, so inner product equals
// cosine similarity. Entries below the acceptance threshold are counted but
// never returned: a sub-threshold "best effort" hit would feed the agent
// wrong product facts.
type Service struct {
	catalog   interfaces.CatalogStorage
	embedder  QueryEmbedder
	threshold float64
	logger    arbor.ILogger
}

// NewService creates the semantic search service. The threshold is
// process-wide configuration, applied to every call.
func NewService(catalog interfaces.CatalogStorage, embedder QueryEmbedder, threshold float64, logger arbor.ILogger) *Service {
	return &Service{
		catalog:   catalog,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}
}

// Search embeds the query and ranks active catalog entries against it.
func (s *Service) Search(ctx context.Context, query string, opts interfaces.SearchOptions) (*models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	limit := clampLimit(opts.Limit)

	entries, err := s.catalog.ListActive(ctx, opts.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}

	// Empty catalog and no-match are distinct outcomes: the agent phrases
	// "we have no catalog" differently from "nothing matched".
	if len(entries) == 0 {
		return &models.SearchResult{
			Outcome:   models.SearchEmptyCatalog,
			Threshold: s.threshold,
		}, nil
	}

	queryVec, err := s.embedder.GenerateQueryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var matches []models.SearchMatch
	var best float64
	filteredOut := 0

	for _, entry := range entries {
		if len(entry.Embedding) != len(queryVec) {
			s.logger.Warn().
				Str("entry_id", entry.ID).
				Int("entry_dim", len(entry.Embedding)).
				Int("query_dim", len(queryVec)).
				Msg("Skipping catalog entry with mismatched embedding dimension")
			continue
		}

		similarity := innerProduct(queryVec, entry.Embedding)
		if similarity > best {
			best = similarity
		}

		if similarity >= s.threshold {
			matches = append(matches, models.SearchMatch{Entry: entry, Similarity: similarity})
		} else {
			filteredOut++
		}
	}

	// Rank by similarity descending; equal scores order by id so results
	// are stable across calls
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entry.ID < matches[j].Entry.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	result := &models.SearchResult{
		BestSimilarity: best,
		FilteredOut:    filteredOut,
		Threshold:      s.threshold,
	}
	if len(matches) > 0 {
		result.Outcome = models.SearchMatches
		result.Matches = matches
	} else {
		result.Outcome = models.SearchNoMatch
	}

	s.logger.Debug().
		Str("query", query).
		Str("outcome", string(result.Outcome)).
		Int("matches", len(matches)).
		Int("filtered_out", filteredOut).
		Float64("best_similarity", best).
		Msg("Semantic search completed")

	return result, nil
}

var _ interfaces.SearchService = (*Service)(nil)

// innerProduct computes the dot product of two equal-length vectors.
func innerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clampLimit(limit int) int {
	if limit == 0 {
		return defaultLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// FormatResult renders a search result as text for the answer agent. The
// outcome markers are load-bearing: the agent's prompt tells it how to
// respond to each.
func FormatResult(result *models.SearchResult) string {
	switch result.Outcome {
	case models.SearchEmptyCatalog:
		return "EMPTY_CATALOG: no catalog entries are available."

	case models.SearchNoMatch:
		return fmt.Sprintf("NO_MATCH: no catalog entry matched the query (best similarity %.2f, threshold %.2f).",
			result.BestSimilarity, result.Threshold)

	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d matching catalog entries:\n", len(result.Matches))
		for i, match := range result.Matches {
			entry := match.Entry
			fmt.Fprintf(&b, "\n%d. %s (similarity %.2f)\n", i+1, entry.Title, match.Similarity)
			if entry.Description != "" {
				fmt.Fprintf(&b, "   %s\n", entry.Description)
			}
			if entry.Price != "" {
				fmt.Fprintf(&b, "   Price: %s\n", entry.Price)
			}
			if entry.Category != "" {
				fmt.Fprintf(&b, "   Category: %s\n", entry.Category)
			}
			if entry.URL != "" {
				fmt.Fprintf(&b, "   URL: %s\n", entry.URL)
			}
		}
		return b.String()
	}
}
