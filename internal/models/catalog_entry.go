package models

import (
	"fmt"
	"strings"
	"time"
)

// CatalogEntry is a product/service record searched by the answer agent.
// Written by the catalog importer; read-only to the pipeline. Embedding is a
// unit vector so inner product equals cosine similarity.
type CatalogEntry struct {
	ID          string `json:"id" badgerhold:"key"` // cat_{uuid}
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty" badgerhold:"index"`
	Price       string `json:"price,omitempty"`

	Embedding []float32 `json:"embedding"`
	Active    bool      `json:"active" badgerhold:"index"`

	Tags     string `json:"tags,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required fields and embedding shape before persistence.
func (e *CatalogEntry) Validate(expectedDim int) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("catalog entry id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("catalog entry %s: title is required", e.ID)
	}
	if len(e.Embedding) == 0 {
		return fmt.Errorf("catalog entry %s: embedding is required", e.ID)
	}
	if expectedDim > 0 && len(e.Embedding) != expectedDim {
		return fmt.Errorf("catalog entry %s: embedding dimension %d, want %d", e.ID, len(e.Embedding), expectedDim)
	}
	return nil
}

// EmbeddingText is the text embedded for the entry: title plus description,
// the same shape used for documents on the query side.
func (e *CatalogEntry) EmbeddingText() string {
	if e.Description == "" {
		return e.Title
	}
	return e.Title + "\n\n" + e.Description
}
