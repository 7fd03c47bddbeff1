package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

func TestCreateClassification_Duplicate(t *testing.T) {
	db := newTestDB(t)
	storage := NewClassificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateClassification(ctx, models.NewClassification("c1")))

	err := storage.CreateClassification(ctx, models.NewClassification("c1"))
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestClassification_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewClassificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	c := models.NewClassification("c1")
	require.NoError(t, storage.CreateClassification(ctx, c))

	c.MarkCompleted(models.LabelQuestion, 95, "asks about sizing", models.UsageMetrics{InputTokens: 120, OutputTokens: 40})
	require.NoError(t, storage.UpdateClassification(ctx, c))

	got, err := storage.GetClassification(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, models.LabelQuestion, got.Label)
	assert.Equal(t, float64(95), got.Confidence)
	assert.Equal(t, int64(120), got.Usage.InputTokens)
}

func TestListStale_OnlyOldProcessingRecords(t *testing.T) {
	db := newTestDB(t)
	storage := NewClassificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()

	// Stale: processing, last touched 30 minutes ago. Written directly so the
	// storage wrapper does not refresh UpdatedAt.
	stale := models.NewClassification("c_stale")
	stale.ProcessingStatus = models.StatusProcessing
	stale.UpdatedAt = now.Add(-30 * time.Minute)
	require.NoError(t, db.Store().Insert(stale.CommentID, stale))

	// Fresh: processing, touched just now
	fresh := models.NewClassification("c_fresh")
	fresh.ProcessingStatus = models.StatusProcessing
	fresh.UpdatedAt = now
	require.NoError(t, db.Store().Insert(fresh.CommentID, fresh))

	// Old but already completed
	done := models.NewClassification("c_done")
	done.ProcessingStatus = models.StatusCompleted
	done.UpdatedAt = now.Add(-30 * time.Minute)
	require.NoError(t, db.Store().Insert(done.CommentID, done))

	records, err := storage.ListStale(ctx, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c_stale", records[0].CommentID)
}

func TestListRetryable_HonorsLimit(t *testing.T) {
	db := newTestDB(t)
	storage := NewClassificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"r1", "r2", "r3"} {
		c := models.NewClassification(id)
		c.ProcessingStatus = models.StatusRetry
		c.UpdatedAt = now.Add(-2 * time.Hour)
		require.NoError(t, db.Store().Insert(c.CommentID, c))
	}

	records, err := storage.ListRetryable(ctx, now.Add(-time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
