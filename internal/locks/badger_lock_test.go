package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestLockManager(t *testing.T) *BadgerLockManager {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewBadgerLockManager(db, 20*time.Millisecond, arbor.NewLogger())
	require.NoError(t, err)
	return m
}

func TestAcquire_SecondAcquireContended(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	token, acquired, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NotEmpty(t, token)

	token2, acquired2, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired2)
	assert.Empty(t, token2)
}

func TestAcquire_DistinctKeysIndependent(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	_, acquired1, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	_, acquired2, err := m.Acquire(ctx, "comment:c2", time.Minute)
	require.NoError(t, err)

	assert.True(t, acquired1)
	assert.True(t, acquired2)
}

func TestRelease_AllowsReacquire(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	token, acquired, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, m.Release(ctx, "comment:c1", token))

	token2, acquired2, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired2)
	assert.NotEqual(t, token, token2, "each acquisition gets its own fencing token")
}

func TestRelease_ForeignTokenIsNoOp(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	_, acquired, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Wrong token releases nothing
	require.NoError(t, m.Release(ctx, "comment:c1", "not-the-token"))

	_, acquired2, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired2, "lock must still be held after foreign release")
}

func TestRelease_MissingLockIsNoOp(t *testing.T) {
	m := newTestLockManager(t)

	assert.NoError(t, m.Release(context.Background(), "comment:never-locked", "token"))
}

func TestAcquire_TTLExpiryFreesLock(t *testing.T) {
	if testing.Short() {
		t.Skip("ttl expiry test sleeps past badger's second-granularity ttl")
	}

	m := newTestLockManager(t)
	ctx := context.Background()

	token1, acquired, err := m.Acquire(ctx, "comment:c1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(2100 * time.Millisecond)

	token2, acquired2, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired2, "expired lock must be acquirable")

	// The old holder's release is stale now and must not free the new lock
	require.NoError(t, m.Release(ctx, "comment:c1", token1))

	_, acquired3, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired3, "stale release must not drop the new holder's lock")

	require.NoError(t, m.Release(ctx, "comment:c1", token2))
}

func TestAcquire_RaceHasSingleWinner(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, acquired, err := m.Acquire(ctx, "comment:contended", time.Minute)
			if err != nil {
				t.Errorf("acquire error: %v", err)
				return
			}
			if acquired {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&wins))
}

func TestAcquireWait_TimesOutStillContended(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	_, acquired, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	start := time.Now()
	_, acquired2, err := m.AcquireWait(ctx, "comment:c1", time.Minute, 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, acquired2)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestAcquireWait_GetsLockOnceReleased(t *testing.T) {
	m := newTestLockManager(t)
	ctx := context.Background()

	token, acquired, err := m.Acquire(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	go func() {
		time.Sleep(80 * time.Millisecond)
		_ = m.Release(ctx, "comment:c1", token)
	}()

	_, acquired2, err := m.AcquireWait(ctx, "comment:c1", time.Minute, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired2)
}

func TestAcquireWait_ContextCancelled(t *testing.T) {
	m := newTestLockManager(t)

	_, acquired, err := m.Acquire(context.Background(), "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, acquired2, err := m.AcquireWait(ctx, "comment:c1", time.Minute, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, acquired2)
}

func TestAcquire_FailsClosedWhenStoreUnavailable(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)

	m, err := NewBadgerLockManager(db, 20*time.Millisecond, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, db.Close())

	_, acquired, err := m.Acquire(context.Background(), "comment:c1", time.Minute)
	assert.Error(t, err)
	assert.False(t, acquired, "store errors must not look like acquisitions")
}
