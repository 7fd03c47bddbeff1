package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/queue"
)

func TestRegisterJobRejectsDuplicatesAndBadSchedules(t *testing.T) {
	s := NewService(arbor.NewLogger())

	require.NoError(t, s.RegisterJob("sweep", "*/5 * * * *", "test job", func() error { return nil }))

	err := s.RegisterJob("sweep", "*/5 * * * *", "again", func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = s.RegisterJob("broken", "not a schedule", "", func() error { return nil })
	require.Error(t, err)
}

func TestRunJobNowExecutesHandler(t *testing.T) {
	s := NewService(arbor.NewLogger())

	done := make(chan struct{})
	require.NoError(t, s.RegisterJob("once", "0 0 1 1 *", "", func() error {
		close(done)
		return nil
	}))

	require.NoError(t, s.RunJobNow("once"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job handler did not run")
	}

	require.Error(t, s.RunJobNow("missing"))
}

func TestExecuteJobRecordsOutcome(t *testing.T) {
	s := NewService(arbor.NewLogger())

	calls := 0
	require.NoError(t, s.RegisterJob("flaky", "0 0 1 1 *", "", func() error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		return nil
	}))

	s.executeJob("flaky")
	statuses := s.JobStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "boom", statuses[0].LastError)
	assert.NotNil(t, statuses[0].LastRun)

	s.executeJob("flaky")
	statuses = s.JobStatuses()
	assert.Empty(t, statuses[0].LastError)
}

func TestExecuteJobRecoversPanic(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("panicky", "0 0 1 1 *", "", func() error {
		panic("kaboom")
	}))

	s.executeJob("panicky")

	statuses := s.JobStatuses()
	require.Len(t, statuses, 1)
	assert.Contains(t, statuses[0].LastError, "kaboom")
	assert.False(t, statuses[0].IsRunning)
}

func TestExecuteJobSkipsWhileRunning(t *testing.T) {
	s := NewService(arbor.NewLogger())

	var running int32
	var overlapped int32
	block := make(chan struct{})

	require.NoError(t, s.RegisterJob("slow", "0 0 1 1 *", "", func() error {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			atomic.StoreInt32(&overlapped, 1)
		}
		<-block
		atomic.StoreInt32(&running, 0)
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.executeJob("slow")
	}()

	// Give the first run time to take the running flag, then attempt overlap.
	time.Sleep(50 * time.Millisecond)
	s.executeJob("slow")

	close(block)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlapped))
}

func TestStartStopLifecycle(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.Error(t, s.Start())
	s.Stop()
	assert.False(t, s.IsRunning())
}

// --- maintenance tests ---

type maintClassStore struct {
	stale     []*models.Classification
	retryable []*models.Classification
	updated   []*models.Classification
}

func (s *maintClassStore) CreateClassification(ctx context.Context, c *models.Classification) error {
	return nil
}
func (s *maintClassStore) GetClassification(ctx context.Context, commentID string) (*models.Classification, error) {
	return nil, interfaces.ErrNotFound
}
func (s *maintClassStore) UpdateClassification(ctx context.Context, c *models.Classification) error {
	s.updated = append(s.updated, c)
	return nil
}
func (s *maintClassStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error) {
	return s.stale, nil
}
func (s *maintClassStore) ListRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Classification, error) {
	return s.retryable, nil
}

var _ interfaces.ClassificationStorage = (*maintClassStore)(nil)

type maintAnswerStore struct {
	stale   []*models.Answer
	updated []*models.Answer
}

func (s *maintAnswerStore) CreateAnswer(ctx context.Context, a *models.Answer) error { return nil }
func (s *maintAnswerStore) GetAnswer(ctx context.Context, commentID string) (*models.Answer, error) {
	return nil, interfaces.ErrNotFound
}
func (s *maintAnswerStore) UpdateAnswer(ctx context.Context, a *models.Answer) error {
	s.updated = append(s.updated, a)
	return nil
}
func (s *maintAnswerStore) MarkReplySent(ctx context.Context, commentID, replyID string) error {
	return nil
}
func (s *maintAnswerStore) GetByReplyID(ctx context.Context, replyID string) (*models.Answer, error) {
	return nil, interfaces.ErrNotFound
}
func (s *maintAnswerStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Answer, error) {
	return s.stale, nil
}

var _ interfaces.AnswerStorage = (*maintAnswerStore)(nil)

type maintQueue struct {
	enqueued []*models.TaskMessage
}

func (q *maintQueue) Enqueue(ctx context.Context, task *models.TaskMessage) error {
	q.enqueued = append(q.enqueued, task)
	return nil
}
func (q *maintQueue) EnqueueWithDelay(ctx context.Context, task *models.TaskMessage, delay time.Duration) error {
	return q.Enqueue(ctx, task)
}
func (q *maintQueue) Receive(ctx context.Context) (*queue.Message, func() error, error) {
	return nil, nil, models.ErrNoTask
}
func (q *maintQueue) Extend(ctx context.Context, msg *queue.Message, duration time.Duration) error {
	return nil
}
func (q *maintQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}
func (q *maintQueue) Close() error { return nil }

var _ interfaces.QueueManager = (*maintQueue)(nil)

type maintPlatform struct {
	expiry time.Time
	err    error
}

func (p *maintPlatform) SendReply(ctx context.Context, commentID, text string) (string, error) {
	return "", errors.New("not implemented")
}
func (p *maintPlatform) HideComment(ctx context.Context, commentID string, hide bool) error {
	return nil
}
func (p *maintPlatform) GetCommentInfo(ctx context.Context, commentID string) (*interfaces.CommentInfo, error) {
	return nil, interfaces.ErrNotFound
}
func (p *maintPlatform) GetMediaInfo(ctx context.Context, mediaID string) (*interfaces.MediaInfo, error) {
	return nil, interfaces.ErrNotFound
}
func (p *maintPlatform) ValidateToken(ctx context.Context) error { return p.err }
func (p *maintPlatform) TokenExpiration(ctx context.Context) (time.Time, error) {
	return p.expiry, p.err
}

var _ interfaces.PlatformClient = (*maintPlatform)(nil)

func newMaintenance(classes *maintClassStore, answers *maintAnswerStore, q *maintQueue, platform *maintPlatform) *Maintenance {
	return NewMaintenance(classes, answers, q, platform, nil, common.NewDefaultConfig(), arbor.NewLogger())
}

func staleClassification(commentID string) *models.Classification {
	c := models.NewClassification(commentID)
	c.MarkProcessing(1)
	c.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	return c
}

func TestReclaimStaleReenqueuesBothStages(t *testing.T) {
	classes := &maintClassStore{stale: []*models.Classification{staleClassification("c1")}}

	staleAnswer := models.NewAnswer("c2")
	staleAnswer.MarkProcessing(2)
	answers := &maintAnswerStore{stale: []*models.Answer{staleAnswer}}

	q := &maintQueue{}
	m := newMaintenance(classes, answers, q, &maintPlatform{})

	require.NoError(t, m.ReclaimStale())

	require.Len(t, q.enqueued, 2)
	assert.Equal(t, models.StageClassify, q.enqueued[0].Stage)
	assert.Equal(t, "c1", q.enqueued[0].CommentID)
	assert.Equal(t, 1, q.enqueued[0].Attempt)
	assert.Equal(t, models.StageAnswer, q.enqueued[1].Stage)
	assert.Equal(t, "c2", q.enqueued[1].CommentID)

	// Records were flipped to retry before enqueue.
	require.Len(t, classes.updated, 1)
	assert.Equal(t, models.StatusRetry, classes.updated[0].ProcessingStatus)
	require.Len(t, answers.updated, 1)
	assert.Equal(t, models.StatusRetry, answers.updated[0].ProcessingStatus)
}

func TestSweepRetriesFinalizesExhaustedRecords(t *testing.T) {
	fresh := models.NewClassification("c1")
	fresh.MarkRetry("transient")

	spent := models.NewClassification("c2")
	spent.MarkProcessing(spent.MaxRetries)
	spent.MarkRetry("transient")

	classes := &maintClassStore{retryable: []*models.Classification{fresh, spent}}
	q := &maintQueue{}
	m := newMaintenance(classes, &maintAnswerStore{}, q, &maintPlatform{})

	require.NoError(t, m.SweepRetries())

	// Only the record with budget left is re-enqueued.
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "c1", q.enqueued[0].CommentID)

	// The exhausted one is finalized as failed.
	require.Len(t, classes.updated, 1)
	assert.Equal(t, models.StatusFailed, classes.updated[0].ProcessingStatus)
}

func TestCheckTokenExpiryScenarios(t *testing.T) {
	tests := []struct {
		name    string
		expiry  time.Time
		wantErr bool
	}{
		{"healthy", time.Now().Add(60 * 24 * time.Hour), false},
		{"expiring soon", time.Now().Add(2 * 24 * time.Hour), false},
		{"expired", time.Now().Add(-time.Hour), true},
		{"no expiry reported", time.Time{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMaintenance(&maintClassStore{}, &maintAnswerStore{}, &maintQueue{}, &maintPlatform{expiry: tc.expiry})
			err := m.CheckTokenExpiry()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCollectGarbageWithoutDBIsNoop(t *testing.T) {
	m := newMaintenance(&maintClassStore{}, &maintAnswerStore{}, &maintQueue{}, &maintPlatform{})
	require.NoError(t, m.CollectGarbage())
}

func TestRegisterAllWiresEveryJob(t *testing.T) {
	s := NewService(arbor.NewLogger())
	m := newMaintenance(&maintClassStore{}, &maintAnswerStore{}, &maintQueue{}, &maintPlatform{})

	config := common.NewDefaultConfig()
	require.NoError(t, m.RegisterAll(s, &config.Scheduler))

	statuses := s.JobStatuses()
	names := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		names[st.Name] = true
	}
	assert.True(t, names["stale_reclaim"])
	assert.True(t, names["retry_sweep"])
	assert.True(t, names["store_gc"])
	assert.True(t, names["token_check"])
}
