package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// importDocument is the YAML file shape: a top-level entries list.
type importDocument struct {
	Entries []importEntry `yaml:"entries"`
}

type importEntry struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Price       string `yaml:"price"`
	Tags        string `yaml:"tags"`
	URL         string `yaml:"url"`
	ImageURL    string `yaml:"image_url"`
	Active      *bool  `yaml:"active"`
}

// EntryEmbedder generates entry vectors. Satisfied by *embeddings.Service.
type EntryEmbedder interface {
	EmbedEntries(ctx context.Context, entries []*models.CatalogEntry) error
	Dimension() int
}

// Report summarizes one import run.
type Report struct {
	Created int
	Updated int
}

// Total is the number of entries written.
func (r Report) Total() int { return r.Created + r.Updated }

// Importer loads catalog entries from a YAML file, embeds them, and upserts
// them into the catalog store. It runs from the CLI, outside the request
// path, so the whole file either imports or fails; no partial writes.
type Importer struct {
	catalog  interfaces.CatalogStorage
	embedder EntryEmbedder
	logger   arbor.ILogger
}

// NewImporter creates the catalog importer.
func NewImporter(catalog interfaces.CatalogStorage, embedder EntryEmbedder, logger arbor.ILogger) *Importer {
	return &Importer{
		catalog:  catalog,
		embedder: embedder,
		logger:   logger,
	}
}

// ImportFile reads the YAML file at path and imports its entries.
func (i *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return i.Import(ctx, data)
}

// Import parses YAML catalog entries, generates embeddings for all of them,
// and upserts them. Entries without an id are created under a fresh id;
// entries with an id update in place, keeping the original creation time.
func (i *Importer) Import(ctx context.Context, data []byte) (*Report, error) {
	var doc importDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("catalog file has no entries")
	}

	report := &Report{}
	now := time.Now().UTC()
	entries := make([]*models.CatalogEntry, 0, len(doc.Entries))
	seen := make(map[string]bool, len(doc.Entries))

	for idx, raw := range doc.Entries {
		if strings.TrimSpace(raw.Title) == "" {
			return nil, fmt.Errorf("entry %d: title is required", idx+1)
		}

		entry := &models.CatalogEntry{
			ID:          strings.TrimSpace(raw.ID),
			Title:       strings.TrimSpace(raw.Title),
			Description: strings.TrimSpace(raw.Description),
			Category:    strings.TrimSpace(raw.Category),
			Price:       raw.Price,
			Tags:        raw.Tags,
			URL:         raw.URL,
			ImageURL:    raw.ImageURL,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if raw.Active != nil {
			entry.Active = *raw.Active
		}

		if entry.ID == "" {
			entry.ID = common.NewCatalogEntryID()
			report.Created++
		} else {
			existing, err := i.catalog.GetEntry(ctx, entry.ID)
			switch {
			case err == nil:
				entry.CreatedAt = existing.CreatedAt
				report.Updated++
			case errors.Is(err, interfaces.ErrNotFound):
				report.Created++
			default:
				return nil, fmt.Errorf("looking up entry %s: %w", entry.ID, err)
			}
		}

		if seen[entry.ID] {
			return nil, fmt.Errorf("duplicate entry id %s in catalog file", entry.ID)
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	}

	// Embed everything before the first write so a provider failure leaves
	// the store untouched.
	if err := i.embedder.EmbedEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("embedding catalog entries: %w", err)
	}

	dimension := i.embedder.Dimension()
	for _, entry := range entries {
		if err := entry.Validate(dimension); err != nil {
			return nil, err
		}
		if err := i.catalog.UpsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("upserting entry %s: %w", entry.ID, err)
		}
	}

	i.logger.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Msg("Catalog import completed")
	return report, nil
}
