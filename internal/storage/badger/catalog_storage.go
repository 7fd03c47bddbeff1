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

// CatalogStorage implements the CatalogStorage interface for Badger
type CatalogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCatalogStorage creates a new CatalogStorage instance
func NewCatalogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CatalogStorage {
	return &CatalogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CatalogStorage) UpsertEntry(ctx context.Context, e *models.CatalogEntry) error {
	if e.ID == "" {
		return fmt.Errorf("catalog entry id is required")
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if err := s.db.Store().Upsert(e.ID, e); err != nil {
		return fmt.Errorf("failed to upsert catalog entry: %w", err)
	}
	return nil
}

func (s *CatalogStorage) GetEntry(ctx context.Context, id string) (*models.CatalogEntry, error) {
	var e models.CatalogEntry
	if err := s.db.Store().Get(id, &e); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}
	return &e, nil
}

// ListActive returns active entries, optionally filtered by exact category.
// Results are ordered by id so equal-similarity search ties break
// deterministically.
func (s *CatalogStorage) ListActive(ctx context.Context, category string) ([]*models.CatalogEntry, error) {
	query := badgerhold.Where("Active").Eq(true).Index("Active")
	if category != "" {
		query = query.And("Category").Eq(category)
	}
	query = query.SortBy("ID")

	var entries []models.CatalogEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}

	result := make([]*models.CatalogEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *CatalogStorage) CountActive(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.CatalogEntry{}, badgerhold.Where("Active").Eq(true).Index("Active"))
	if err != nil {
		return 0, fmt.Errorf("failed to count catalog entries: %w", err)
	}
	return int(count), nil
}

func (s *CatalogStorage) DeleteEntry(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.CatalogEntry{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return nil
}
