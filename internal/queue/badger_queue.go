package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// BadgerQueue implements a persistent task queue on BadgerDB.
//
// Two key families per queue:
//
//	queue:{name}:msg:{id}              -> envelope JSON
//	queue:{name}:index:{visibleAt}:{id} -> empty
//
// The index key embeds the zero-padded VisibleAt nanosecond timestamp so a
// prefix scan yields messages in visibility order; delayed delivery and
// visibility timeouts are both just index keys in the future.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue creates a new Badger-backed queue manager
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue makes the task visible immediately.
func (q *BadgerQueue) Enqueue(ctx context.Context, task *models.TaskMessage) error {
	return q.enqueueAt(task, time.Now())
}

// EnqueueWithDelay schedules the task to become visible after the delay.
// Retry backoff and deferred re-drives use this.
func (q *BadgerQueue) EnqueueWithDelay(ctx context.Context, task *models.TaskMessage, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return q.enqueueAt(task, time.Now().Add(delay))
}

func (q *BadgerQueue) enqueueAt(task *models.TaskMessage, visibleAt time.Time) error {
	if task == nil {
		return errors.New("task is required")
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	env := Message{
		ID:         uuid.New().String(),
		Task:       task,
		EnqueuedAt: time.Now(),
		VisibleAt:  visibleAt,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(env.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(env.VisibleAt, env.ID), []byte{})
	})
}

// Receive claims the next visible message. The claim makes it invisible for
// the visibility timeout; the returned delete function acknowledges it.
// Returns ErrNoTask when nothing is ready.
func (q *BadgerQueue) Receive(ctx context.Context) (*Message, func() error, error) {
	var env Message
	var msgID string
	var oldIndexKey []byte

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index keys sort by timestamp; the first future entry ends
			// the scan.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(q.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			// Poison bound: drop envelopes that keep coming back
			if env.ReceiveCount >= q.maxReceive {
				if q.logger != nil {
					q.logger.Warn().
						Str("queue", q.queueName).
						Str("message_id", id).
						Int("receive_count", env.ReceiveCount).
						Msg("Dropping poison message after max receives")
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return ErrNoTask
		}

		// Claim: bump receive count and push visibility into the future
		env.ReceiveCount++
		env.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(env.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		// Concurrent receivers racing for the same head message conflict at
		// commit; the loser just polls again.
		if errors.Is(err, badger.ErrConflict) {
			return nil, nil, ErrNoTask
		}
		return nil, nil, err
	}

	deleteFn := func() error {
		return q.deleteMessage(msgID)
	}

	return &env, deleteFn, nil
}

// Extend pushes out the visibility timeout of an in-flight message.
func (q *BadgerQueue) Extend(ctx context.Context, msg *Message, duration time.Duration) error {
	if msg == nil {
		return errors.New("message is required")
	}

	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(msg.ID))
		if err != nil {
			return err
		}

		var env Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		oldVisibleAt := env.VisibleAt
		env.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msg.ID), newData); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(oldVisibleAt, msg.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(q.indexKey(env.VisibleAt, msg.ID), []byte{})
	})
}

// Stats reports queue depth: messages ready now vs scheduled for later
// (delayed retries and in-flight claims both sit in the future).
func (q *BadgerQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	visible := 0
	scheduled := 0

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, _, err := q.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			if ts.After(now) {
				scheduled++
			} else {
				visible++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue index: %w", err)
	}

	return map[string]interface{}{
		"queue":     q.queueName,
		"visible":   visible,
		"scheduled": scheduled,
		"total":     visible + scheduled,
	}, nil
}

// Close closes the queue manager (no-op; the DB is managed externally)
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) deleteMessage(msgID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(msgID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // already deleted
			}
			return err
		}

		var env Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(env.VisibleAt, msgID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(q.msgKey(msgID))
	})
}

// Helpers

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	ts := visibleAt.UnixNano()
	// Zero pad to 20 digits so lexical order equals numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, ts, id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	// Suffix is "{20-digit-ts}:{id}"
	if len(suffix) < 21 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
