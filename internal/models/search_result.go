package models

// SearchOutcome is the closed set of semantic search results. EmptyCatalog
// and NoMatch are distinct outcomes and are never conflated: callers render
// different user-facing language for each.
type SearchOutcome string

const (
	// SearchMatches: at least one entry cleared the similarity threshold.
	SearchMatches SearchOutcome = "matches"
	// SearchNoMatch: entries exist but none cleared the threshold. The best
	// sub-threshold similarity is reported but its entry is never returned.
	SearchNoMatch SearchOutcome = "no_match"
	// SearchEmptyCatalog: no active entries exist at all.
	SearchEmptyCatalog SearchOutcome = "empty_catalog"
)

// SearchMatch is one high-confidence hit.
type SearchMatch struct {
	Entry      *CatalogEntry `json:"entry"`
	Similarity float64       `json:"similarity"`
}

// SearchResult carries the outcome of one semantic search call.
type SearchResult struct {
	Outcome SearchOutcome `json:"outcome"`

	// Matches is ranked descending by similarity, ties broken by ascending
	// entry id. Populated only for SearchMatches.
	Matches []SearchMatch `json:"matches,omitempty"`

	// BestSimilarity is the highest similarity observed among candidates,
	// including out-of-distribution ones. For SearchNoMatch it documents how
	// close the nearest miss came.
	BestSimilarity float64 `json:"best_similarity"`

	// FilteredOut counts candidates excluded as out-of-distribution.
	FilteredOut int `json:"filtered_out"`

	// Threshold echoes the acceptance threshold in force for this call.
	Threshold float64 `json:"threshold"`
}
