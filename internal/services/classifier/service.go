package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Result is the outcome of one classification call. Deferred results carry no
// label: the media post still lacks its context description and the caller
// decides whether to re-drive later or classify without it.
type Result struct {
	Deferred    bool
	DeferReason string

	Label      models.Label
	Confidence float64
	Reasoning  string
	Usage      models.UsageMetrics
}

// Service assigns intent labels to comments via the configured LLM.
type Service struct {
	llm    interfaces.LLMService
	model  string
	logger arbor.ILogger
}

func NewService(llm interfaces.LLMService, config *common.Config, logger arbor.ILogger) (*Service, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm service is required")
	}
	return &Service{
		llm:    llm,
		model:  config.Classification.Model,
		logger: logger,
	}, nil
}

// Classify assigns an intent label to the comment. When the media post has an
// image whose context enrichment has not finished, the result is Deferred and
// no provider call is made.
func (s *Service) Classify(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*Result, error) {
	if media != nil && media.ContextPending() {
		return &Result{Deferred: true, DeferReason: "media context enrichment pending"}, nil
	}
	return s.classify(ctx, comment, media)
}

// ClassifyNow classifies without waiting for media context. Used once the
// deferral budget is spent; the prompt simply omits the missing description.
func (s *Service) ClassifyNow(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*Result, error) {
	return s.classify(ctx, comment, media)
}

func (s *Service) classify(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*Result, error) {
	if comment == nil {
		return nil, fmt.Errorf("comment is required")
	}

	req := &interfaces.CompletionRequest{
		Messages:          []interfaces.Message{{Role: "user", Content: buildPrompt(comment, media)}},
		Model:             s.model,
		SystemInstruction: classificationInstructions,
		OutputSchema:      outputSchema(),
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classification call for comment %s failed: %w", comment.ID, err)
	}

	result := parseResponse(resp.Text)
	result.Usage = resp.Usage

	s.logger.Info().
		Str("comment_id", comment.ID).
		Str("label", string(result.Label)).
		Float64("confidence", result.Confidence).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Comment classified")

	return result, nil
}

// parseResponse decodes the structured output. Malformed payloads and labels
// outside the taxonomy fall back to spam with zero confidence so the stage
// always reaches a definite outcome.
func parseResponse(text string) *Result {
	var raw struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(cleanMarkdownFences(text)), &raw); err != nil {
		return fallbackResult(fmt.Sprintf("malformed classification payload: %v", err))
	}

	label, err := models.ParseLabel(strings.ToLower(strings.TrimSpace(raw.Label)))
	if err != nil {
		return fallbackResult(err.Error())
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return &Result{Label: label, Confidence: confidence, Reasoning: raw.Reasoning}
}

func fallbackResult(reason string) *Result {
	return &Result{
		Label:      models.LabelSpam,
		Confidence: 0,
		Reasoning:  "classification fallback: " + reason,
	}
}

var fencePattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json|JSON)?\s*\n?(.*?)\n?\s*` + "```" + `\s*$`)

// cleanMarkdownFences strips code fences some models wrap around JSON even
// when instructed not to.
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
