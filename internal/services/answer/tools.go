package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/search"
)

// Tool names form a closed union. A turn with no tool block is the final
// answer; there is no open registry and nothing is dispatched by reflection.
const (
	toolSearch        = "product_search"
	toolImageAnalysis = "image_analysis"
)

// toolRequest is one parsed tool_use block. The union is flat: Name selects
// the tool, the remaining fields are that tool's arguments.
type toolRequest struct {
	Name string `json:"name"`

	// product_search
	Query    string `json:"query,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Category string `json:"category,omitempty"`

	// image_analysis
	Question string `json:"question,omitempty"`
}

type toolFunc func(ctx context.Context, req *toolRequest, media *models.MediaPost) (string, error)

// Toolbox executes agent tool requests against the catalog and the vision
// model.
type Toolbox struct {
	search   interfaces.SearchService
	llm      interfaces.LLMService
	logger   arbor.ILogger
	handlers map[string]toolFunc
}

func NewToolbox(searchSvc interfaces.SearchService, llm interfaces.LLMService, logger arbor.ILogger) *Toolbox {
	t := &Toolbox{search: searchSvc, llm: llm, logger: logger}
	t.handlers = map[string]toolFunc{
		toolSearch:        t.runSearch,
		toolImageAnalysis: t.runImageAnalysis,
	}
	return t
}

// Execute runs one tool request. Tool failures are returned as observation
// text, not errors: the agent sees what went wrong and can answer without the
// tool.
func (t *Toolbox) Execute(ctx context.Context, req *toolRequest, media *models.MediaPost) string {
	handler, ok := t.handlers[req.Name]
	if !ok {
		return fmt.Sprintf("Tool %q does not exist. Available tools: %s, %s.", req.Name, toolSearch, toolImageAnalysis)
	}

	result, err := handler(ctx, req, media)
	if err != nil {
		t.logger.Warn().Err(err).Str("tool", req.Name).Msg("Tool execution failed")
		return fmt.Sprintf("Tool %q failed: %v. Answer with what you already know, without inventing details.", req.Name, err)
	}
	return result
}

func (t *Toolbox) runSearch(ctx context.Context, req *toolRequest, _ *models.MediaPost) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", fmt.Errorf("product_search requires a query")
	}

	result, err := t.search.Search(ctx, req.Query, interfaces.SearchOptions{
		Limit:    req.Limit,
		Category: req.Category,
	})
	if err != nil {
		return "", err
	}

	t.logger.Debug().
		Str("query", req.Query).
		Str("outcome", string(result.Outcome)).
		Int("matches", len(result.Matches)).
		Msg("Catalog search tool executed")

	return search.FormatResult(result), nil
}

func (t *Toolbox) runImageAnalysis(ctx context.Context, req *toolRequest, media *models.MediaPost) (string, error) {
	if media == nil || media.MediaURL == "" {
		return "", fmt.Errorf("the post has no image to analyze")
	}

	prompt := "Answer the customer's question from this Instagram post image. Extract exact text, prices, and product details where visible."
	if req.Question != "" {
		prompt += "\n\nQuestion: " + req.Question
	}

	return t.llm.AnalyzeImage(ctx, media.MediaURL, prompt)
}

// Tool block patterns. The strict form matches a flat tool_use object; the
// loose form tolerates extra nesting or whitespace the model adds.
var (
	toolUsePattern      = regexp.MustCompile("(?s)```json\\s*\\{\\s*\"tool_use\"\\s*:\\s*(\\{[^}]*\\})\\s*\\}\\s*```")
	toolUseLoosePattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\"tool_use\".*?\\})\\s*```")
)

// parseToolUse extracts a tool request from a model turn. A nil result means
// the turn carries no tool call and is the final answer.
func parseToolUse(response string) *toolRequest {
	if matches := toolUsePattern.FindStringSubmatch(response); len(matches) > 1 {
		var req toolRequest
		if err := json.Unmarshal([]byte(matches[1]), &req); err == nil && req.Name != "" {
			return &req
		}
	}

	if matches := toolUseLoosePattern.FindStringSubmatch(response); len(matches) > 1 {
		var wrapper struct {
			ToolUse toolRequest `json:"tool_use"`
		}
		if err := json.Unmarshal([]byte(matches[1]), &wrapper); err == nil && wrapper.ToolUse.Name != "" {
			return &wrapper.ToolUse
		}
	}

	return nil
}
