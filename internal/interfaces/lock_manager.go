package interfaces

import (
	"context"
	"time"
)

// LockManager provides exclusive, TTL-bounded ownership of a resource key
// across workers.
//
// Acquire's bool derives from the backing store's unambiguous success signal
// (the atomic set-if-absent committing), never from truthiness of a returned
// value. The returned token is a fencing token proving this specific
// acquisition: Release with a stale token (the lock expired and was
// re-acquired by another owner) is a no-op.
//
// Store errors fail closed: (_, false, err). No stage proceeds on an
// unreachable lock store.
type LockManager interface {
	// Acquire attempts a non-blocking acquisition. On contention it returns
	// ("", false, nil) immediately.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// AcquireWait polls until acquisition, maxWait elapses, or ctx is done.
	AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (token string, acquired bool, err error)

	// Release removes the lock only if still held by the given token.
	Release(ctx context.Context, key, token string) error

	Close() error
}
