package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

const lockKeyPrefix = "lock:"

// BadgerLockManager implements LockManager on badger entries with TTLs.
//
// Acquisition is a read-then-set inside one transaction. Badger's conflict
// detection makes the commit the success signal: when two workers race, one
// commit succeeds and the other fails with ErrConflict, which maps to
// acquired=false. Expiry is badger's entry TTL, so a crashed holder's lock
// releases itself without a janitor.
type BadgerLockManager struct {
	db           *badger.DB
	logger       arbor.ILogger
	pollInterval time.Duration
}

// NewBadgerLockManager creates a lock manager sharing the given badger handle.
func NewBadgerLockManager(db *badger.DB, pollInterval time.Duration, logger arbor.ILogger) (*BadgerLockManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db is required")
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &BadgerLockManager{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
	}, nil
}

// Acquire attempts a non-blocking acquisition. Contention returns
// ("", false, nil); store errors return ("", false, err) and the caller must
// not proceed.
func (m *BadgerLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return "", false, fmt.Errorf("lock ttl must be positive")
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	token := common.NewFencingToken()
	storeKey := []byte(lockKeyPrefix + key)

	err := m.db.Update(func(tx *badger.Txn) error {
		_, err := tx.Get(storeKey)
		if err == nil {
			// Held and not expired
			return badger.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entry := badger.NewEntry(storeKey, []byte(token)).WithTTL(ttl)
		return tx.SetEntry(entry)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lock store error for %s: %w", key, err)
	}

	return token, true, nil
}

// AcquireWait polls Acquire until it succeeds, maxWait elapses, or the context
// is done. Timing out returns ("", false, nil) like plain contention.
func (m *BadgerLockManager) AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (string, bool, error) {
	deadline := time.Now().Add(maxWait)

	for {
		token, acquired, err := m.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return token, acquired, err
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// Release deletes the lock only while the given token still owns it. A stale
// token (expired and re-acquired elsewhere) is a no-op, never an error.
func (m *BadgerLockManager) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return fmt.Errorf("lock key and token are required")
	}

	storeKey := []byte(lockKeyPrefix + key)

	err := m.db.Update(func(tx *badger.Txn) error {
		item, err := tx.Get(storeKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // already expired or released
		}
		if err != nil {
			return err
		}

		var owned bool
		if err := item.Value(func(val []byte) error {
			owned = string(val) == token
			return nil
		}); err != nil {
			return err
		}
		if !owned {
			return nil
		}

		return tx.Delete(storeKey)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			// Ownership changed mid-release; the new holder wins
			return nil
		}
		return fmt.Errorf("lock release error for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the badger handle is owned by the storage manager.
func (m *BadgerLockManager) Close() error {
	return nil
}

var _ interfaces.LockManager = (*BadgerLockManager)(nil)
