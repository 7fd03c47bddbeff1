package queue

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerQueue {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerQueue(db, "test_tasks", visibility, maxReceive, arbor.NewLogger())
	require.NoError(t, err)
	return q
}

func TestEnqueueReceive_RoundTrip(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)
	ctx := context.Background()

	task := models.NewTask("c1", models.StageClassify)
	require.NoError(t, q.Enqueue(ctx, task))

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "c1", msg.Task.CommentID)
	assert.Equal(t, models.StageClassify, msg.Task.Stage)
	assert.Equal(t, 1, msg.ReceiveCount)

	require.NoError(t, deleteFn())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestReceive_EmptyQueue(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)

	_, _, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestEnqueue_RejectsInvalidTask(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)

	err := q.Enqueue(context.Background(), &models.TaskMessage{ID: "task_x", Stage: "bogus"})
	assert.Error(t, err)
}

func TestEnqueueWithDelay_InvisibleUntilDue(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, q.EnqueueWithDelay(ctx, models.NewTask("c1", models.StageClassify), 200*time.Millisecond))

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoTask)

	time.Sleep(250 * time.Millisecond)

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.Task.CommentID)
	require.NoError(t, deleteFn())
}

func TestReceive_OrderedByVisibility(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c_first", models.StageClassify)))
	require.NoError(t, q.Enqueue(ctx, models.NewTask("c_second", models.StageClassify)))

	msg1, del1, err := q.Receive(ctx)
	require.NoError(t, err)
	msg2, del2, err := q.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "c_first", msg1.Task.CommentID)
	assert.Equal(t, "c_second", msg2.Task.CommentID)
	require.NoError(t, del1())
	require.NoError(t, del2())
}

func TestReceive_RedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := newTestQueue(t, 150*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c1", models.StageClassify)))

	// Claim without acknowledging
	msg, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.ReceiveCount)

	// Invisible while claimed
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoTask)

	time.Sleep(200 * time.Millisecond)

	msg2, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg2.Task.CommentID)
	assert.Equal(t, 2, msg2.ReceiveCount)
	require.NoError(t, deleteFn())
}

func TestReceive_PoisonDroppedAfterMaxReceives(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c1", models.StageClassify)))

	for i := 1; i <= 2; i++ {
		time.Sleep(80 * time.Millisecond)
		msg, _, err := q.Receive(ctx)
		require.NoError(t, err, "receive %d", i)
		assert.Equal(t, i, msg.ReceiveCount)
	}

	time.Sleep(80 * time.Millisecond)

	// Third delivery would exceed max receives; the envelope is dropped.
	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoTask)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["total"])
}

func TestExtend_KeepsClaimInvisible(t *testing.T) {
	q := newTestQueue(t, 100*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c1", models.StageClassify)))

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Extend(ctx, msg, 500*time.Millisecond))

	// Original visibility window has passed but the claim was extended
	time.Sleep(200 * time.Millisecond)
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoTask)

	require.NoError(t, deleteFn())
}

func TestDelete_Idempotent(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c1", models.StageClassify)))

	_, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, deleteFn())
	require.NoError(t, deleteFn())
}

func TestStats_SplitsVisibleAndScheduled(t *testing.T) {
	q := newTestQueue(t, time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.NewTask("c1", models.StageClassify)))
	require.NoError(t, q.EnqueueWithDelay(ctx, models.NewTask("c2", models.StageAnswer), time.Hour))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["visible"])
	assert.Equal(t, 1, stats["scheduled"])
	assert.Equal(t, 2, stats["total"])
}
