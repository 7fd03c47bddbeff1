package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db             *BadgerDB
	comment        interfaces.CommentStorage
	classification interfaces.ClassificationStorage
	answer         interfaces.AnswerStorage
	media          interfaces.MediaStorage
	catalog        interfaces.CatalogStorage
	logger         arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:             db,
		comment:        NewCommentStorage(db, logger),
		classification: NewClassificationStorage(db, logger),
		answer:         NewAnswerStorage(db, logger),
		media:          NewMediaStorage(db, logger),
		catalog:        NewCatalogStorage(db, logger),
		logger:         logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// CommentStorage returns the Comment storage interface
func (m *Manager) CommentStorage() interfaces.CommentStorage {
	return m.comment
}

// ClassificationStorage returns the Classification storage interface
func (m *Manager) ClassificationStorage() interfaces.ClassificationStorage {
	return m.classification
}

// AnswerStorage returns the Answer storage interface
func (m *Manager) AnswerStorage() interfaces.AnswerStorage {
	return m.answer
}

// MediaStorage returns the Media storage interface
func (m *Manager) MediaStorage() interfaces.MediaStorage {
	return m.media
}

// CatalogStorage returns the Catalog storage interface
func (m *Manager) CatalogStorage() interfaces.CatalogStorage {
	return m.catalog
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
