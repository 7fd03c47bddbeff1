package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// geminiProvider serves completions, embeddings and vision through the
// Google Gemini API.
type geminiProvider struct {
	client     *genai.Client
	config     *common.GeminiConfig
	embedModel string
	embedDim   int
	logger     arbor.ILogger
	timeout    time.Duration
}

func newGeminiProvider(ctx context.Context, config *common.Config, logger arbor.ILogger) (*geminiProvider, error) {
	timeout, err := config.ParseDuration(config.Gemini.Timeout, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiProvider{
		client:     client,
		config:     &config.Gemini,
		embedModel: config.Search.EmbeddingModel,
		embedDim:   config.Search.EmbeddingDimension,
		logger:     logger,
		timeout:    timeout,
	}, nil
}

// convertMessagesToGemini converts []interfaces.Message to Gemini Content
// format, extracting the first system message for SystemInstruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
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

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		var geminiRole string
		switch msg.Role {
		case "assistant":
			geminiRole = genai.RoleModel
		case "user":
			geminiRole = genai.RoleUser
		default:
			geminiRole = genai.RoleUser
		}

		contents = append(contents, &genai.Content{
			Role:  geminiRole,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

// generate runs one completion with in-call rate-limit retries.
func (p *geminiProvider) generate(ctx context.Context, req *interfaces.CompletionRequest, model string) (*interfaces.CompletionResponse, error) {
	if model == "" {
		model = p.config.Model
	}

	contents, systemText, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.SystemInstruction != "" {
		systemText = req.SystemInstruction
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = p.config.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	// With a schema set Gemini enforces JSON output matching it
	if len(req.OutputSchema) > 0 {
		genaiSchema, err := convertToGenaiSchema(req.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid output schema: %w", err)
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = genaiSchema
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp *genai.GenerateContentResponse
	var apiErr error
	retryConfig := NewDefaultRetryConfig()

	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		resp, apiErr = p.client.Models.GenerateContent(callCtx, model, contents, config)
		if apiErr == nil {
			break
		}
		if attempt == retryConfig.MaxRetries {
			break
		}

		var backoff time.Duration
		if IsRateLimitError(apiErr) {
			backoff = retryConfig.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
		}

		p.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Gemini API call")

		select {
		case <-callCtx.Done():
			return nil, callCtx.Err()
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		return nil, fmt.Errorf("Gemini API call failed after %d retries: %w", retryConfig.MaxRetries, apiErr)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty text in Gemini response")
	}

	return &interfaces.CompletionResponse{
		Text:     text,
		Provider: string(ProviderGemini),
		Model:    model,
		Usage:    geminiUsage(resp),
	}, nil
}

// embed generates an embedding normalized to unit length. Gemini only
// returns pre-normalized vectors at the full 3072 dimensionality; truncated
// outputs need explicit renormalization before inner-product similarity.
func (p *geminiProvider) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outputDim := int32(p.embedDim)
	result, err := p.client.Models.EmbedContent(callCtx, p.embedModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(embedding) != p.embedDim {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", p.embedDim, len(embedding))
	}

	return normalizeVector(embedding)
}

// analyzeImage describes image bytes guided by the prompt.
func (p *geminiProvider) analyzeImage(ctx context.Context, imageData []byte, mimeType, prompt, model string) (string, error) {
	if model == "" {
		model = p.config.Model
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(imageData, mimeType),
			genai.NewPartFromText(prompt),
		},
	}}

	resp, err := p.client.Models.GenerateContent(callCtx, model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", fmt.Errorf("Gemini vision call failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty vision response from Gemini API")
	}
	return text, nil
}

func (p *geminiProvider) close() {
	p.client = nil
}

func geminiUsage(resp *genai.GenerateContentResponse) models.UsageMetrics {
	if resp == nil || resp.UsageMetadata == nil {
		return models.UsageMetrics{}
	}
	return models.UsageMetrics{
		InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// normalizeVector scales a vector to unit length.
func normalizeVector(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, fmt.Errorf("embedding has zero magnitude")
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// convertToGenaiSchema converts a map[string]interface{} JSON schema to a
// genai.Schema.
func convertToGenaiSchema(schemaMap map[string]interface{}) (*genai.Schema, error) {
	if len(schemaMap) == 0 {
		return nil, nil
	}

	schema := &genai.Schema{}

	if typeStr, ok := schemaMap["type"].(string); ok {
		switch strings.ToLower(typeStr) {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enumVals, ok := schemaMap["enum"].([]interface{}); ok {
		for _, v := range enumVals {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	} else if enumVals, ok := schemaMap["enum"].([]string); ok {
		schema.Enum = enumVals
	}

	if reqVals, ok := schemaMap["required"].([]interface{}); ok {
		for _, v := range reqVals {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	} else if reqVals, ok := schemaMap["required"].([]string); ok {
		schema.Required = reqVals
	}

	if min, ok := schemaNumber(schemaMap["minimum"]); ok {
		schema.Minimum = &min
	}
	if max, ok := schemaNumber(schemaMap["maximum"]); ok {
		schema.Maximum = &max
	}

	if itemsMap, ok := schemaMap["items"].(map[string]interface{}); ok {
		itemSchema, err := convertToGenaiSchema(itemsMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert items schema: %w", err)
		}
		schema.Items = itemSchema
	}

	if propsMap, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for propName, propVal := range propsMap {
			if propMap, ok := propVal.(map[string]interface{}); ok {
				propSchema, err := convertToGenaiSchema(propMap)
				if err != nil {
					return nil, fmt.Errorf("failed to convert property '%s': %w", propName, err)
				}
				schema.Properties[propName] = propSchema
			}
		}
	}

	return schema, nil
}

func schemaNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
