package interfaces

import (
	"context"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// SearchOptions narrows a semantic search call.
type SearchOptions struct {
	// Limit caps returned matches; clamped to [1,10].
	Limit int

	// Category optionally pre-filters candidates by exact category.
	Category string
}

// SearchService ranks catalog entries by semantic similarity to a query and
// filters out-of-distribution results. The acceptance threshold is
// process-wide configuration, not per-call.
type SearchService interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*models.SearchResult, error)
}
