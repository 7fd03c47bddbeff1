package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

type stubSearchService struct {
	result  *models.SearchResult
	err     error
	queries []string
	opts    []interfaces.SearchOptions
}

func (s *stubSearchService) Search(ctx context.Context, query string, opts interfaces.SearchOptions) (*models.SearchResult, error) {
	s.queries = append(s.queries, query)
	s.opts = append(s.opts, opts)
	return s.result, s.err
}

func TestSearchHandler(t *testing.T) {
	t.Run("requires a query", func(t *testing.T) {
		h := NewSearchHandler(&stubSearchService{}, arbor.NewLogger())
		req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(`{"query":"  "}`))
		rec := httptest.NewRecorder()
		h.SearchHandler(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects non-POST", func(t *testing.T) {
		h := NewSearchHandler(&stubSearchService{}, arbor.NewLogger())
		req := httptest.NewRequest("GET", "/api/search", nil)
		rec := httptest.NewRecorder()
		h.SearchHandler(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("returns the search result", func(t *testing.T) {
		svc := &stubSearchService{result: &models.SearchResult{
			Outcome:        models.SearchMatches,
			BestSimilarity: 0.91,
			Matches: []models.SearchMatch{
				{Entry: &models.CatalogEntry{ID: "cat_1", Title: "Ceramic mug"}, Similarity: 0.91},
			},
		}}
		h := NewSearchHandler(svc, arbor.NewLogger())

		body := `{"query":"do you sell mugs","limit":3,"category":"kitchen"}`
		req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.SearchHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.SearchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, models.SearchMatches, result.Outcome)
		require.Len(t, result.Matches, 1)
		require.NotNil(t, result.Matches[0].Entry)
		assert.Equal(t, "cat_1", result.Matches[0].Entry.ID)

		require.Len(t, svc.opts, 1)
		assert.Equal(t, 3, svc.opts[0].Limit)
		assert.Equal(t, "kitchen", svc.opts[0].Category)
	})
}

func TestCommentHandler(t *testing.T) {
	comment := models.NewComment("c_1", "m_1", "u_1", "buyer", "is this in stock?", nil, time.Now().UTC())
	classification := models.NewClassification("c_1")
	classification.MarkCompleted(models.LabelQuestion, 0.9, "asks about availability", models.UsageMetrics{})

	newHandler := func() *CommentHandler {
		return NewCommentHandler(
			newMockCommentStorage(comment),
			newMockClassificationStorage(classification),
			newMockAnswerStorage(),
			arbor.NewLogger(),
		)
	}

	t.Run("aggregates the pipeline view", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/comments/c_1", nil)
		rec := httptest.NewRecorder()
		newHandler().GetCommentHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var view CommentView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		require.NotNil(t, view.Comment)
		assert.Equal(t, "c_1", view.Comment.ID)
		require.NotNil(t, view.Classification)
		assert.Equal(t, models.LabelQuestion, view.Classification.Label)
		assert.Nil(t, view.Answer)
	})

	t.Run("unknown comment is 404", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/comments/c_missing", nil)
		rec := httptest.NewRecorder()
		newHandler().GetCommentHandler(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id is 400", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/comments/", nil)
		rec := httptest.NewRecorder()
		newHandler().GetCommentHandler(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusHandler(t *testing.T) {
	h := NewStatusHandler(newMockCommentStorage(), &mockQueue{}, nil, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Contains(t, status, "version")
	assert.Contains(t, status, "queue")
}

func TestHealthHandler(t *testing.T) {
	h := NewStatusHandler(newMockCommentStorage(), &mockQueue{}, nil, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
