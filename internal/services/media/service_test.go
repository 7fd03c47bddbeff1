package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

type mockMediaStorage struct {
	posts     map[string]*models.MediaPost
	createErr error
}

func newMockMediaStorage() *mockMediaStorage {
	return &mockMediaStorage{posts: make(map[string]*models.MediaPost)}
}

func (m *mockMediaStorage) CreateMedia(ctx context.Context, p *models.MediaPost) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.posts[p.ID]; ok {
		return interfaces.ErrDuplicate
	}
	m.posts[p.ID] = p
	return nil
}

func (m *mockMediaStorage) GetMedia(ctx context.Context, id string) (*models.MediaPost, error) {
	p, ok := m.posts[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return p, nil
}

func (m *mockMediaStorage) UpdateMedia(ctx context.Context, p *models.MediaPost) error {
	m.posts[p.ID] = p
	return nil
}

var _ interfaces.MediaStorage = (*mockMediaStorage)(nil)

type mockLLM struct {
	analyzeFunc func(ctx context.Context, imageURL, prompt string) (string, error)
	prompts     []string
}

func (m *mockLLM) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLLM) AnalyzeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, imageURL, prompt)
	}
	return "## Products\n\nCeramic mugs, $25 each.", nil
}

func (m *mockLLM) HealthCheck(ctx context.Context) error { return nil }

func (m *mockLLM) Close() error { return nil }

var _ interfaces.LLMService = (*mockLLM)(nil)

// mediaPlatform stubs only the media fetch; everything else is unreachable
// from this package.
type mediaPlatform struct {
	info  *interfaces.MediaInfo
	err   error
	calls int
}

func (p *mediaPlatform) SendReply(ctx context.Context, commentID, text string) (string, error) {
	return "", errors.New("not implemented")
}
func (p *mediaPlatform) HideComment(ctx context.Context, commentID string, hide bool) error {
	return errors.New("not implemented")
}
func (p *mediaPlatform) GetCommentInfo(ctx context.Context, commentID string) (*interfaces.CommentInfo, error) {
	return nil, interfaces.ErrNotFound
}
func (p *mediaPlatform) GetMediaInfo(ctx context.Context, mediaID string) (*interfaces.MediaInfo, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.info, nil
}
func (p *mediaPlatform) ValidateToken(ctx context.Context) error { return nil }
func (p *mediaPlatform) TokenExpiration(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

var _ interfaces.PlatformClient = (*mediaPlatform)(nil)

func newTestService(t *testing.T, storage interfaces.MediaStorage, llm interfaces.LLMService) *Service {
	t.Helper()
	svc, err := NewService(storage, llm, nil, arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func newFetchingService(t *testing.T, storage interfaces.MediaStorage, platform interfaces.PlatformClient) *Service {
	t.Helper()
	svc, err := NewService(storage, &mockLLM{}, platform, arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func TestGetOrCreateCreatesNewPost(t *testing.T) {
	storage := newMockMediaStorage()
	svc := newTestService(t, storage, &mockLLM{})

	post, created, err := svc.GetOrCreate(context.Background(), "m1", "caption", "IMAGE", "https://cdn.example/a.jpg", "")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, models.MediaAnalysisPending, post.AnalysisStatus)
	assert.Contains(t, storage.posts, "m1")
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	storage := newMockMediaStorage()
	existing := models.NewMediaPost("m1", "old caption", "IMAGE", "https://cdn.example/a.jpg", "")
	storage.posts["m1"] = existing

	svc := newTestService(t, storage, &mockLLM{})
	post, created, err := svc.GetOrCreate(context.Background(), "m1", "new caption", "IMAGE", "", "")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, "old caption", post.Caption)
}

func TestGetOrCreateResolvesDuplicateRace(t *testing.T) {
	storage := newMockMediaStorage()
	winner := models.NewMediaPost("m1", "winner", "IMAGE", "", "")
	storage.posts["m1"] = winner
	// Force the Get-then-Create race: first Get misses, Create collides.
	raceStorage := &racingStorage{mockMediaStorage: storage}

	svc := newTestService(t, raceStorage, &mockLLM{})
	post, created, err := svc.GetOrCreate(context.Background(), "m1", "loser", "IMAGE", "", "")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, "winner", post.Caption)
}

// racingStorage misses the first Get so Create hits the duplicate path.
type racingStorage struct {
	*mockMediaStorage
	gets int
}

func (r *racingStorage) GetMedia(ctx context.Context, id string) (*models.MediaPost, error) {
	r.gets++
	if r.gets == 1 {
		return nil, interfaces.ErrNotFound
	}
	return r.mockMediaStorage.GetMedia(ctx, id)
}

func TestGetOrCreateSkipsAnalysisWithoutImage(t *testing.T) {
	storage := newMockMediaStorage()
	svc := newTestService(t, storage, &mockLLM{})

	post, created, err := svc.GetOrCreate(context.Background(), "m2", "text only", "VIDEO", "", "")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, models.MediaAnalysisSkipped, post.AnalysisStatus)
}

func TestEnsureFetchesDetailsOnFirstSight(t *testing.T) {
	storage := newMockMediaStorage()
	platform := &mediaPlatform{info: &interfaces.MediaInfo{
		ID:        "m1",
		Caption:   "new drop",
		MediaType: "IMAGE",
		MediaURL:  "https://cdn.example/a.jpg",
		Permalink: "https://instagram.com/p/abc",
	}}
	svc := newFetchingService(t, storage, platform)

	post, created, err := svc.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, 1, platform.calls)
	assert.Equal(t, "new drop", post.Caption)
	assert.Equal(t, "https://instagram.com/p/abc", post.Permalink)
	assert.Equal(t, models.MediaAnalysisPending, post.AnalysisStatus)
}

func TestEnsureSkipsFetchWhenPostExists(t *testing.T) {
	storage := newMockMediaStorage()
	storage.posts["m1"] = models.NewMediaPost("m1", "already here", "IMAGE", "", "")
	platform := &mediaPlatform{}
	svc := newFetchingService(t, storage, platform)

	post, created, err := svc.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Zero(t, platform.calls)
	assert.Equal(t, "already here", post.Caption)
}

func TestEnsureDegradesOnFetchFailure(t *testing.T) {
	storage := newMockMediaStorage()
	platform := &mediaPlatform{err: errors.New("graph api unavailable")}
	svc := newFetchingService(t, storage, platform)

	post, created, err := svc.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Empty(t, post.MediaURL)
	assert.Equal(t, models.MediaAnalysisSkipped, post.AnalysisStatus)
}

func TestEnsureDropsVideoURL(t *testing.T) {
	storage := newMockMediaStorage()
	platform := &mediaPlatform{info: &interfaces.MediaInfo{
		ID:        "m1",
		MediaType: "VIDEO",
		MediaURL:  "https://cdn.example/clip.mp4",
	}}
	svc := newFetchingService(t, storage, platform)

	post, _, err := svc.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	assert.Empty(t, post.MediaURL)
	assert.Equal(t, models.MediaAnalysisSkipped, post.AnalysisStatus)
}

func TestEnsureWithoutPlatformRecordsBarePost(t *testing.T) {
	storage := newMockMediaStorage()
	svc := newTestService(t, storage, &mockLLM{})

	post, created, err := svc.Ensure(context.Background(), "m1")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, models.MediaAnalysisSkipped, post.AnalysisStatus)
}

func TestAnalyzeBuildsPromptWithCaption(t *testing.T) {
	llm := &mockLLM{}
	svc := newTestService(t, newMockMediaStorage(), llm)

	post := models.NewMediaPost("m1", "spring collection", "IMAGE", "https://cdn.example/a.jpg", "")
	description, err := svc.Analyze(context.Background(), post)
	require.NoError(t, err)

	assert.Contains(t, description, "Ceramic mugs")
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Post caption: spring collection")
}

func TestAnalyzeRequiresImageURL(t *testing.T) {
	svc := newTestService(t, newMockMediaStorage(), &mockLLM{})

	post := models.NewMediaPost("m1", "no image", "VIDEO", "", "")
	_, err := svc.Analyze(context.Background(), post)
	assert.Error(t, err)
}

func TestAnalyzeRejectsEmptyResult(t *testing.T) {
	llm := &mockLLM{analyzeFunc: func(ctx context.Context, imageURL, prompt string) (string, error) {
		return "   ", nil
	}}
	svc := newTestService(t, newMockMediaStorage(), llm)

	post := models.NewMediaPost("m1", "", "IMAGE", "https://cdn.example/a.jpg", "")
	_, err := svc.Analyze(context.Background(), post)
	assert.Error(t, err)
}

func TestAnalyzePropagatesProviderError(t *testing.T) {
	llm := &mockLLM{analyzeFunc: func(ctx context.Context, imageURL, prompt string) (string, error) {
		return "", errors.New("vision model unavailable")
	}}
	svc := newTestService(t, newMockMediaStorage(), llm)

	post := models.NewMediaPost("m1", "", "IMAGE", "https://cdn.example/a.jpg", "")
	_, err := svc.Analyze(context.Background(), post)
	assert.Error(t, err)
}
