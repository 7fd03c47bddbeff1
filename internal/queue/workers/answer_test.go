package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/answer"
)

// mockAnswerStorage holds answer records keyed by comment id.
type mockAnswerStorage struct {
	mu      sync.Mutex
	records map[string]*models.Answer
	updates int
}

func newMockAnswerStorage(records ...*models.Answer) *mockAnswerStorage {
	m := &mockAnswerStorage{records: make(map[string]*models.Answer)}
	for _, r := range records {
		m.records[r.CommentID] = r
	}
	return m
}

func (m *mockAnswerStorage) CreateAnswer(ctx context.Context, a *models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.CommentID]; ok {
		return interfaces.ErrDuplicate
	}
	copied := *a
	m.records[a.CommentID] = &copied
	return nil
}

func (m *mockAnswerStorage) GetAnswer(ctx context.Context, commentID string) (*models.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[commentID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *mockAnswerStorage) UpdateAnswer(ctx context.Context, a *models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.records[a.CommentID] = &copied
	m.updates++
	return nil
}

func (m *mockAnswerStorage) MarkReplySent(ctx context.Context, commentID, replyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[commentID]
	if !ok {
		return interfaces.ErrNotFound
	}
	for _, other := range m.records {
		if other.ReplyID == replyID && other.CommentID != commentID {
			return interfaces.ErrDuplicate
		}
	}
	r.MarkReplySent(replyID)
	return nil
}

func (m *mockAnswerStorage) GetByReplyID(ctx context.Context, replyID string) (*models.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ReplyID == replyID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (m *mockAnswerStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Answer, error) {
	return nil, nil
}

func (m *mockAnswerStorage) get(t *testing.T, commentID string) *models.Answer {
	t.Helper()
	r, err := m.GetAnswer(context.Background(), commentID)
	require.NoError(t, err)
	return r
}

var _ interfaces.AnswerStorage = (*mockAnswerStorage)(nil)

// mockGenerator scripts answer generation via a function field.
type mockGenerator struct {
	generateFunc func(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error)
	calls        int
}

func (m *mockGenerator) Generate(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error) {
	m.calls++
	if m.generateFunc != nil {
		return m.generateFunc(ctx, comment, media)
	}
	return &answer.Result{Text: "It costs $25.", Confidence: 0.9, QualityScore: 85, IsHelpful: true, Tone: models.ToneFriendly}, nil
}

var _ AnswerGenerator = (*mockGenerator)(nil)

type answerFixture struct {
	worker          *AnswerWorker
	comments        *mockCommentStorage
	classifications *mockClassificationStorage
	answers         *mockAnswerStorage
	media           *mockMediaStorage
	generator       *mockGenerator
}

// newAnswerFixture seeds the comment plus a completed question classification,
// the state the answer stage is normally entered in.
func newAnswerFixture(t *testing.T, comments ...*models.Comment) *answerFixture {
	t.Helper()
	f := &answerFixture{
		comments:        newMockCommentStorage(comments...),
		classifications: newMockClassificationStorage(),
		answers:         newMockAnswerStorage(),
		media:           newMockMediaStorage(),
		generator:       &mockGenerator{},
	}
	for _, c := range comments {
		record := models.NewClassification(c.ID)
		record.MarkCompleted(models.LabelQuestion, 95, "asks about price", models.UsageMetrics{})
		require.NoError(t, f.classifications.UpdateClassification(context.Background(), record))
	}
	w, err := NewAnswerWorker(
		f.generator, f.comments, f.classifications, f.answers, f.media,
		common.NewDefaultConfig(), arbor.NewLogger())
	require.NoError(t, err)
	f.worker = w
	return f
}

func TestNewAnswerWorkerRequiresCollaborators(t *testing.T) {
	cfg := common.NewDefaultConfig()
	logger := arbor.NewLogger()
	comments := newMockCommentStorage()
	classifications := newMockClassificationStorage()
	answers := newMockAnswerStorage()

	_, err := NewAnswerWorker(nil, comments, classifications, answers, nil, cfg, logger)
	assert.Error(t, err)

	_, err = NewAnswerWorker(&mockGenerator{}, comments, classifications, nil, nil, cfg, logger)
	assert.Error(t, err)

	w, err := NewAnswerWorker(&mockGenerator{}, comments, classifications, answers, nil, cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, models.StageAnswer, w.GetStage())
	assert.Equal(t, models.DefaultAnswerMaxRetries, w.MaxAttempts())
}

func TestAnswerWorkerValidate(t *testing.T) {
	f := newAnswerFixture(t)

	assert.NoError(t, f.worker.Validate(models.NewTask("c1", models.StageAnswer)))
	assert.Error(t, f.worker.Validate(models.NewTask("c1", models.StageDispatch)))
	assert.Error(t, f.worker.Validate(models.NewTask("", models.StageAnswer)))
}

func TestAnswerGeneratesAndAdvancesToDispatch(t *testing.T) {
	f := newAnswerFixture(t, newPendingComment("c1"))
	f.generator.generateFunc = func(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error) {
		return &answer.Result{
			Text:                "The scrub is $25, free shipping over $50.",
			Confidence:          0.93,
			QualityScore:        88,
			IsHelpful:           true,
			ContainsContactInfo: false,
			Tone:                models.ToneFriendly,
			Reasoning:           "price from catalog",
			Usage:               models.UsageMetrics{InputTokens: 400, OutputTokens: 60},
		}, nil
	}

	outcome, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.NoError(t, err)

	assert.Equal(t, models.StateAnswered, outcome.State)
	assert.Equal(t, models.StageDispatch, outcome.NextStage)
	assert.Equal(t, "quality 88", outcome.Detail)

	record := f.answers.get(t, "c1")
	assert.Equal(t, models.StatusCompleted, record.ProcessingStatus)
	assert.Equal(t, "The scrub is $25, free shipping over $50.", record.Text)
	assert.Equal(t, 0.93, record.Confidence)
	assert.Equal(t, 88, record.QualityScore)
	assert.True(t, record.IsHelpful)
	assert.Equal(t, models.ToneFriendly, record.Tone)
	assert.Equal(t, int64(400), record.Usage.InputTokens)
	assert.False(t, record.ReplySent)
}

func TestAnswerMarksProcessingBeforeProviderCall(t *testing.T) {
	f := newAnswerFixture(t, newPendingComment("c1"))

	var statusAtCall models.ProcessingStatus
	f.generator.generateFunc = func(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error) {
		statusAtCall = f.answers.get(t, "c1").ProcessingStatus
		return &answer.Result{Text: "ok", QualityScore: 70}, nil
	}

	_, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, statusAtCall)
}

// Generation requires a completed actionable classification. Anything else is
// an inconsistency, not a retryable condition.
func TestAnswerClassificationGates(t *testing.T) {
	tests := []struct {
		name   string
		record func() *models.Classification
	}{
		{
			name:   "missing classification",
			record: func() *models.Classification { return nil },
		},
		{
			name: "classification not terminal",
			record: func() *models.Classification {
				r := models.NewClassification("c1")
				r.MarkRetry("still flapping")
				return r
			},
		},
		{
			name: "label not actionable",
			record: func() *models.Classification {
				r := models.NewClassification("c1")
				r.MarkCompleted(models.LabelSpam, 90, "", models.UsageMetrics{})
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &answerFixture{
				comments:        newMockCommentStorage(newPendingComment("c1")),
				classifications: newMockClassificationStorage(),
				answers:         newMockAnswerStorage(),
				media:           newMockMediaStorage(),
				generator:       &mockGenerator{},
			}
			if r := tt.record(); r != nil {
				require.NoError(t, f.classifications.UpdateClassification(context.Background(), r))
			}
			w, err := NewAnswerWorker(
				f.generator, f.comments, f.classifications, f.answers, f.media,
				common.NewDefaultConfig(), arbor.NewLogger())
			require.NoError(t, err)

			_, err = w.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
			require.Error(t, err)

			stageErr, ok := models.AsStageError(err)
			require.True(t, ok)
			assert.Equal(t, models.FailurePermanent, stageErr.Kind)
			assert.Equal(t, 0, f.generator.calls)
		})
	}
}

func TestAnswerResumesFromCompletedRecord(t *testing.T) {
	record := models.NewAnswer("c1")
	record.MarkCompleted("earlier answer", 0.8, 75, true, false, models.ToneProfessional, "", models.UsageMetrics{})

	f := newAnswerFixture(t, newPendingComment("c1"))
	require.NoError(t, f.answers.UpdateAnswer(context.Background(), record))

	outcome, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.NoError(t, err)

	assert.Equal(t, 0, f.generator.calls)
	assert.Equal(t, models.StateAnswered, outcome.State)
	assert.Equal(t, models.StageDispatch, outcome.NextStage)
	assert.Equal(t, "already generated", outcome.Detail)
}

func TestAnswerFailedRecordIsPermanent(t *testing.T) {
	record := models.NewAnswer("c1")
	record.MarkFailed("gave up earlier")

	f := newAnswerFixture(t, newPendingComment("c1"))
	require.NoError(t, f.answers.UpdateAnswer(context.Background(), record))

	_, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.Error(t, err)

	stageErr, ok := models.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailurePermanent, stageErr.Kind)
	assert.Equal(t, 0, f.generator.calls)
}

func TestAnswerGenerationErrorIsTransient(t *testing.T) {
	f := newAnswerFixture(t, newPendingComment("c1"))
	f.generator.generateFunc = func(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error) {
		return nil, errors.New("agent loop exceeded turns")
	}

	_, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.Error(t, err)

	stageErr, ok := models.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureTransient, stageErr.Kind)

	record := f.answers.get(t, "c1")
	assert.Equal(t, models.StatusRetry, record.ProcessingStatus)
	assert.Contains(t, record.LastError, "agent loop exceeded turns")
}

func TestAnswerMissingCommentIsPermanent(t *testing.T) {
	f := newAnswerFixture(t)

	_, err := f.worker.Execute(context.Background(), models.NewTask("ghost", models.StageAnswer))
	require.Error(t, err)

	stageErr, ok := models.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailurePermanent, stageErr.Kind)
}

func TestAnswerPassesMediaContextToGenerator(t *testing.T) {
	post := models.NewMediaPost("media_1", "summer sale", "IMAGE", "https://cdn/img.jpg", "")
	post.SetContext("photo of a coffee scrub jar")

	f := newAnswerFixture(t, newPendingComment("c1"))
	require.NoError(t, f.media.CreateMedia(context.Background(), post))

	var seen *models.MediaPost
	f.generator.generateFunc = func(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error) {
		seen = media
		return &answer.Result{Text: "ok", QualityScore: 70}, nil
	}

	_, err := f.worker.Execute(context.Background(), models.NewTask("c1", models.StageAnswer))
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, "photo of a coffee scrub jar", seen.MediaContext)
}
