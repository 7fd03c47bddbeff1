package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// mockLLM implements interfaces.LLMService with function fields.
type mockLLM struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	embedded  []string
}

func (m *mockLLM) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedded = append(m.embedded, text)
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return []float32{0.6, 0.8}, nil
}

func (m *mockLLM) AnalyzeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockLLM) HealthCheck(ctx context.Context) error { return nil }
func (m *mockLLM) Close() error                          { return nil }

var _ interfaces.LLMService = (*mockLLM)(nil)

func TestGenerateEmbedding(t *testing.T) {
	svc := NewService(&mockLLM{}, 2, arbor.NewLogger())

	vec, err := svc.GenerateEmbedding(context.Background(), "pricing question")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, vec)
}

func TestGenerateEmbeddingRejectsEmptyText(t *testing.T) {
	svc := NewService(&mockLLM{}, 2, arbor.NewLogger())
	_, err := svc.GenerateEmbedding(context.Background(), "")
	assert.Error(t, err)
}

func TestGenerateEmbeddingRejectsWrongDimension(t *testing.T) {
	svc := NewService(&mockLLM{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}, 2, arbor.NewLogger())

	_, err := svc.GenerateEmbedding(context.Background(), "text")
	assert.Error(t, err)
}

func TestEmbedEntryUsesTitleAndDescription(t *testing.T) {
	llm := &mockLLM{}
	svc := NewService(llm, 2, arbor.NewLogger())

	entry := &models.CatalogEntry{
		ID:          "cat_1",
		Title:       "Beginner course",
		Description: "Eight weeks, online",
	}
	require.NoError(t, svc.EmbedEntry(context.Background(), entry))

	assert.Equal(t, []float32{0.6, 0.8}, entry.Embedding)
	require.Len(t, llm.embedded, 1)
	assert.Equal(t, "Beginner course\n\nEight weeks, online", llm.embedded[0])
}

func TestEmbedEntriesStopsAtFirstFailure(t *testing.T) {
	calls := 0
	svc := NewService(&mockLLM{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("provider down")
			}
			return []float32{0.6, 0.8}, nil
		},
	}, 2, arbor.NewLogger())

	entries := []*models.CatalogEntry{
		{ID: "cat_1", Title: "a"},
		{ID: "cat_2", Title: "b"},
		{ID: "cat_3", Title: "c"},
	}

	err := svc.EmbedEntries(context.Background(), entries)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.NotEmpty(t, entries[0].Embedding)
	assert.Empty(t, entries[2].Embedding)
}
