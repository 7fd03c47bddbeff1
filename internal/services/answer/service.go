package answer

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

// Result is the outcome of one generation run: the reply text plus the
// model's self-assessment, and the token usage summed across every turn of
// the agent loop.
type Result struct {
	Text                string
	Confidence          float64
	QualityScore        int
	IsHelpful           bool
	ContainsContactInfo bool
	Tone                models.Tone
	Reasoning           string
	Usage               models.UsageMetrics

	Turns     int
	ToolCalls int
}

// Service generates replies for actionable comments through a bounded
// tool-augmented agent loop.
type Service struct {
	llm          interfaces.LLMService
	toolbox      *Toolbox
	history      *History
	model        string
	maxTurns     int
	maxToolCalls int
	logger       arbor.ILogger
}

func NewService(
	llm interfaces.LLMService,
	searchSvc interfaces.SearchService,
	comments interfaces.CommentStorage,
	answers interfaces.AnswerStorage,
	config *common.Config,
	logger arbor.ILogger,
) (*Service, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm service is required")
	}
	if searchSvc == nil {
		return nil, fmt.Errorf("search service is required")
	}

	maxTurns := config.Answer.MaxTurns
	if maxTurns < 1 {
		maxTurns = 1
	}
	maxToolCalls := config.Answer.MaxToolCalls
	if maxToolCalls < 0 {
		maxToolCalls = 0
	}

	return &Service{
		llm:          llm,
		toolbox:      NewToolbox(searchSvc, llm, logger),
		history:      NewHistory(comments, answers, config.Answer.MaxHistoryTurns),
		model:        config.Answer.Model,
		maxTurns:     maxTurns,
		maxToolCalls: maxToolCalls,
		logger:       logger,
	}, nil
}

// Generate runs the agent loop for one comment. Each turn the model either
// calls a tool (the observation is appended and the loop continues) or emits
// the final answer JSON. The loop is bounded by max turns and max tool calls;
// exhausting max turns without a final answer is an error the caller treats
// as transient.
func (s *Service) Generate(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*Result, error) {
	if comment == nil {
		return nil, fmt.Errorf("comment is required")
	}

	history, err := s.history.Collect(ctx, comment.ConversationID, comment.ID)
	if err != nil {
		return nil, fmt.Errorf("collecting history for comment %s: %w", comment.ID, err)
	}

	messages := []interfaces.Message{
		{Role: "user", Content: buildUserMessage(comment, media, history)},
	}

	var usage models.UsageMetrics
	toolCalls := 0
	start := time.Now()

	for turn := 1; turn <= s.maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := s.llm.Complete(ctx, &interfaces.CompletionRequest{
			Messages:          messages,
			Model:             s.model,
			SystemInstruction: responseInstructions,
		})
		if err != nil {
			return nil, fmt.Errorf("generation call for comment %s failed on turn %d: %w", comment.ID, turn, err)
		}
		usage.Add(resp.Usage)

		req := parseToolUse(resp.Text)
		if req == nil {
			result, err := parseFinalAnswer(resp.Text)
			if err != nil {
				return nil, fmt.Errorf("comment %s: %w", comment.ID, err)
			}
			result.Usage = usage
			result.Turns = turn
			result.ToolCalls = toolCalls

			s.logger.Info().
				Str("comment_id", comment.ID).
				Int("turns", turn).
				Int("tool_calls", toolCalls).
				Int("quality_score", result.QualityScore).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("Answer generated")
			return result, nil
		}

		messages = append(messages, interfaces.Message{Role: "assistant", Content: resp.Text})

		if toolCalls >= s.maxToolCalls {
			messages = append(messages, interfaces.Message{
				Role:    "user",
				Content: "Tool budget exhausted. Give your final answer now using what you already know.",
			})
			continue
		}
		toolCalls++

		observation := s.toolbox.Execute(ctx, req, media)
		s.logger.Debug().
			Str("comment_id", comment.ID).
			Str("tool", req.Name).
			Int("turn", turn).
			Msg("Tool observation appended")

		messages = append(messages, interfaces.Message{
			Role:    "user",
			Content: fmt.Sprintf("Tool result for %s:\n%s", req.Name, observation),
		})
	}

	return nil, fmt.Errorf("comment %s: agent loop exhausted %d turns without a final answer", comment.ID, s.maxTurns)
}

// parseFinalAnswer decodes the final-answer contract. Scores are clamped to
// their documented ranges; a payload with no answer text is an error because
// there is nothing to dispatch.
func parseFinalAnswer(text string) (*Result, error) {
	var raw struct {
		Answer              string  `json:"answer"`
		Confidence          float64 `json:"confidence"`
		Reasoning           string  `json:"reasoning"`
		QualityScore        int     `json:"quality_score"`
		IsHelpful           bool    `json:"is_helpful"`
		ContainsContactInfo bool    `json:"contains_contact_info"`
		Tone                string  `json:"tone"`
	}

	cleaned := extractJSONObject(text)
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("malformed final answer payload: %w", err)
	}
	if strings.TrimSpace(raw.Answer) == "" {
		return nil, fmt.Errorf("final answer payload carries no answer text")
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	quality := raw.QualityScore
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	return &Result{
		Text:                strings.TrimSpace(raw.Answer),
		Confidence:          confidence,
		QualityScore:        quality,
		IsHelpful:           raw.IsHelpful,
		ContainsContactInfo: raw.ContainsContactInfo,
		Tone:                models.ParseTone(raw.Tone),
		Reasoning:           raw.Reasoning,
	}, nil
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```")

// extractJSONObject pulls the outermost JSON object out of a model turn,
// tolerating code fences and prose the model wraps around it.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if matches := fencedJSONPattern.FindStringSubmatch(text); len(matches) > 1 {
		text = strings.TrimSpace(matches[1])
	}

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx >= 0 && endIdx > startIdx {
		return text[startIdx : endIdx+1]
	}
	return text
}
