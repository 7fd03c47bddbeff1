package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// claudeProvider serves completions and vision through the Anthropic API.
// Claude has no response-schema parameter; structured output requests are
// enforced through the system prompt instead.
type claudeProvider struct {
	client    anthropic.Client
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	timeout   time.Duration
	maxTokens int
}

func newClaudeProvider(config *common.Config, logger arbor.ILogger) (*claudeProvider, error) {
	timeout, err := config.ParseDuration(config.Claude.Timeout, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout: %w", err)
	}

	maxTokens := config.Claude.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.Claude.APIKey),
	)

	return &claudeProvider{
		client:    client,
		config:    &config.Claude,
		logger:    logger,
		timeout:   timeout,
		maxTokens: maxTokens,
	}, nil
}

// convertMessagesToClaude converts []interfaces.Message to Claude
// MessageParam format, extracting the first system message for the System
// parameter.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		switch msg.Role {
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return claudeMessages, systemText, nil
}

// generate runs one completion with in-call rate-limit retries.
func (p *claudeProvider) generate(ctx context.Context, req *interfaces.CompletionRequest, model string) (*interfaces.CompletionResponse, error) {
	if model == "" {
		model = p.config.Model
	}

	claudeMessages, systemText, err := convertMessagesToClaude(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.SystemInstruction != "" {
		systemText = req.SystemInstruction
	}

	// Schema goes into the system prompt; the caller still validates the
	// parsed JSON against its own expectations.
	if len(req.OutputSchema) > 0 {
		schemaJSON, err := json.Marshal(req.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid output schema: %w", err)
		}
		instruction := fmt.Sprintf("Respond with a single JSON object matching this JSON schema, and nothing else:\n%s", schemaJSON)
		if systemText == "" {
			systemText = instruction
		} else {
			systemText = systemText + "\n\n" + instruction
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = p.config.Temperature
	}
	if temp > 0 {
		params.Temperature = anthropic.Float(float64(temp))
	}

	if systemText != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemText},
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.callWithRetry(callCtx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from Claude API")
	}

	return &interfaces.CompletionResponse{
		Text:     text.String(),
		Provider: string(ProviderClaude),
		Model:    model,
		Usage:    claudeUsage(resp),
	}, nil
}

// analyzeImage describes image bytes guided by the prompt.
func (p *claudeProvider) analyzeImage(ctx context.Context, imageData []byte, mimeType, prompt, model string) (string, error) {
	if model == "" {
		model = p.config.Model
	}

	encoded := base64.StdEncoding.EncodeToString(imageData)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, encoded),
				anthropic.NewTextBlock(prompt),
			),
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.callWithRetry(callCtx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty vision response from Claude API")
	}
	return text.String(), nil
}

func (p *claudeProvider) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var resp *anthropic.Message
	var apiErr error
	retryConfig := NewDefaultRetryConfig()

	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		resp, apiErr = p.client.Messages.New(ctx, params)
		if apiErr == nil {
			return resp, nil
		}
		if attempt == retryConfig.MaxRetries {
			break
		}

		backoff := time.Duration(attempt+1) * 2 * time.Second
		if IsRateLimitError(apiErr) {
			backoff = retryConfig.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))
		}

		p.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Claude API call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("Claude API call failed after %d retries: %w", retryConfig.MaxRetries, apiErr)
}

func (p *claudeProvider) close() {
	p.client = anthropic.Client{}
}

func claudeUsage(resp *anthropic.Message) models.UsageMetrics {
	if resp == nil {
		return models.UsageMetrics{}
	}
	return models.UsageMetrics{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
