package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

type mockLLM struct {
	completeFunc func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error)
	requests     []*interfaces.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	m.requests = append(m.requests, req)
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}
	return &interfaces.CompletionResponse{
		Text:  `{"label": "question / inquiry", "confidence": 90, "reasoning": "asks about availability"}`,
		Usage: models.UsageMetrics{InputTokens: 120, OutputTokens: 30},
	}, nil
}

func (m *mockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLLM) AnalyzeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockLLM) HealthCheck(ctx context.Context) error { return nil }

func (m *mockLLM) Close() error { return nil }

var _ interfaces.LLMService = (*mockLLM)(nil)

func newTestService(t *testing.T, llm interfaces.LLMService) *Service {
	t.Helper()
	svc, err := NewService(llm, common.NewDefaultConfig(), arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func testComment(text string) *models.Comment {
	return models.NewComment("c1", "m1", "u1", "someone", text, nil, time.Time{})
}

func TestClassifyParsesStructuredOutput(t *testing.T) {
	llm := &mockLLM{}
	svc := newTestService(t, llm)

	result, err := svc.Classify(context.Background(), testComment("do you ship to Berlin?"), nil)
	require.NoError(t, err)

	assert.False(t, result.Deferred)
	assert.Equal(t, models.LabelQuestion, result.Label)
	assert.InDelta(t, 90, result.Confidence, 1e-9)
	assert.Equal(t, "asks about availability", result.Reasoning)
	assert.Equal(t, int64(120), result.Usage.InputTokens)

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.NotEmpty(t, req.SystemInstruction)
	assert.NotNil(t, req.OutputSchema)
	assert.Contains(t, req.Messages[0].Content, "do you ship to Berlin?")
}

func TestClassifyDefersWhileMediaContextPending(t *testing.T) {
	llm := &mockLLM{}
	svc := newTestService(t, llm)

	media := models.NewMediaPost("m1", "new drop", "IMAGE", "https://cdn.example/post.jpg", "")
	result, err := svc.Classify(context.Background(), testComment("how much?"), media)
	require.NoError(t, err)

	assert.True(t, result.Deferred)
	assert.NotEmpty(t, result.DeferReason)
	assert.Empty(t, llm.requests, "no provider call while deferred")
}

func TestClassifyNowSkipsContextWait(t *testing.T) {
	llm := &mockLLM{}
	svc := newTestService(t, llm)

	media := models.NewMediaPost("m1", "new drop", "IMAGE", "https://cdn.example/post.jpg", "")
	result, err := svc.ClassifyNow(context.Background(), testComment("how much?"), media)
	require.NoError(t, err)

	assert.False(t, result.Deferred)
	require.Len(t, llm.requests, 1)
	assert.NotContains(t, llm.requests[0].Messages[0].Content, "Post image description")
}

func TestClassifyIncludesMediaContext(t *testing.T) {
	llm := &mockLLM{}
	svc := newTestService(t, llm)

	media := models.NewMediaPost("m1", "spring collection", "IMAGE", "https://cdn.example/post.jpg", "")
	media.SetContext("A table of handmade ceramic mugs with price tags.")

	_, err := svc.Classify(context.Background(), testComment("how much is the blue one?"), media)
	require.NoError(t, err)

	require.Len(t, llm.requests, 1)
	prompt := llm.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "spring collection")
	assert.Contains(t, prompt, "handmade ceramic mugs")
	assert.Contains(t, prompt, "how much is the blue one?")
}

func TestClassifyFallsBackOnMalformedPayload(t *testing.T) {
	llm := &mockLLM{completeFunc: func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
		return &interfaces.CompletionResponse{Text: "I think this is a question."}, nil
	}}
	svc := newTestService(t, llm)

	result, err := svc.Classify(context.Background(), testComment("hello?"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.LabelSpam, result.Label)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Reasoning, "classification fallback")
}

func TestClassifyFallsBackOnUnknownLabel(t *testing.T) {
	llm := &mockLLM{completeFunc: func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
		return &interfaces.CompletionResponse{Text: `{"label": "meme", "confidence": 70, "reasoning": "funny"}`}, nil
	}}
	svc := newTestService(t, llm)

	result, err := svc.Classify(context.Background(), testComment("lol"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.LabelSpam, result.Label)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Reasoning, "taxonomy")
}

func TestClassifyClampsConfidence(t *testing.T) {
	llm := &mockLLM{completeFunc: func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
		return &interfaces.CompletionResponse{Text: `{"label": "positive feedback", "confidence": 250, "reasoning": "r"}`}, nil
	}}
	svc := newTestService(t, llm)

	result, err := svc.Classify(context.Background(), testComment("love it"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 100, result.Confidence, 1e-9)
}

func TestClassifyStripsMarkdownFences(t *testing.T) {
	llm := &mockLLM{completeFunc: func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
		return &interfaces.CompletionResponse{
			Text: "```json\n{\"label\": \"critical feedback\", \"confidence\": 75, \"reasoning\": \"late delivery\"}\n```",
		}, nil
	}}
	svc := newTestService(t, llm)

	result, err := svc.Classify(context.Background(), testComment("took two weeks to arrive"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.LabelCriticalFeedback, result.Label)
	assert.InDelta(t, 75, result.Confidence, 1e-9)
}

func TestClassifyPropagatesProviderError(t *testing.T) {
	llm := &mockLLM{completeFunc: func(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
		return nil, errors.New("upstream unavailable")
	}}
	svc := newTestService(t, llm)

	_, err := svc.Classify(context.Background(), testComment("hello"), nil)
	assert.Error(t, err)
}

func TestBuildPromptMarksReplies(t *testing.T) {
	parent := "p1"
	reply := models.NewComment("c2", "m1", "u2", "other", "and in red?", &parent, time.Time{})

	prompt := buildPrompt(reply, nil)
	assert.Contains(t, prompt, "reply inside an existing thread")
}

func TestOutputSchemaListsTaxonomy(t *testing.T) {
	schema := outputSchema()
	props := schema["properties"].(map[string]interface{})
	label := props["label"].(map[string]interface{})
	enum := label["enum"].([]interface{})

	assert.Len(t, enum, len(models.AllLabels))
	assert.Contains(t, enum, "question / inquiry")
	assert.Contains(t, enum, "spam / irrelevant")
}

func TestCleanMarkdownFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain json", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"upper fence", "```JSON\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMarkdownFences(tt.input))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html escaped", `<script>alert("x")</script>`, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;"},
		{"whitespace collapsed", "hello    there\n\nfriend", "hello there friend"},
		{"punctuation capped", "really??????", "really???"},
		{"mixed punctuation capped", "what?!?!?!?!", "what!!!"},
		{"short runs kept", "wow!! nice.", "wow!! nice."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSanitizeCapsEmojiRuns(t *testing.T) {
	in := "great " + strings.Repeat("\U0001F600", 9)
	out := Sanitize(in)
	assert.Equal(t, "great "+strings.Repeat("\U0001F600", 5), out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcde...", Truncate("abcdefgh", 5))

	// Rune-safe: multibyte input never splits mid-character.
	long := strings.Repeat("привет ", 400)
	out := Truncate(long, maxCommentChars)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len([]rune(out)), maxCommentChars+3)
}
