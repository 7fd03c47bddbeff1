package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/httpclient"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

// Service routes LLM calls to the configured providers. A provider is
// available when its API key is configured; requests are routed by model
// name with the configured default as fallback.
type Service struct {
	config     *common.Config
	logger     arbor.ILogger
	gemini     *geminiProvider
	claude     *claudeProvider
	httpClient *http.Client
}

// NewService initializes every provider whose API key is configured. The
// default provider must be among them.
func NewService(ctx context.Context, config *common.Config, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		config:     config,
		logger:     logger,
		httpClient: httpclient.NewDefaultHTTPClient(30 * time.Second),
	}

	if config.Gemini.APIKey != "" {
		gemini, err := newGeminiProvider(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		s.gemini = gemini
	}
	if config.Claude.APIKey != "" {
		claude, err := newClaudeProvider(config, logger)
		if err != nil {
			return nil, err
		}
		s.claude = claude
	}

	if s.gemini == nil && s.claude == nil {
		return nil, fmt.Errorf("no LLM provider configured: set GEMINI_API_KEY or ANTHROPIC_API_KEY")
	}
	if _, err := s.providerFor(string(config.LLM.DefaultProvider)); err != nil {
		return nil, fmt.Errorf("default provider %q is not configured", config.LLM.DefaultProvider)
	}

	logger.Info().
		Bool("gemini", s.gemini != nil).
		Bool("claude", s.claude != nil).
		Str("default", string(config.LLM.DefaultProvider)).
		Msg("LLM service initialized")

	return s, nil
}

// Complete generates a response using the provider the model name selects.
func (s *Service) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("completion request requires messages")
	}

	provider := DetectProvider(req.Model, s.config.LLM.DefaultProvider)
	model := NormalizeModel(req.Model)

	s.logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Int("message_count", len(req.Messages)).
		Bool("structured", len(req.OutputSchema) > 0).
		Msg("Generating completion")

	switch provider {
	case ProviderClaude:
		if s.claude == nil {
			return nil, fmt.Errorf("claude provider is not configured")
		}
		return s.claude.generate(ctx, req, model)
	default:
		if s.gemini == nil {
			return nil, fmt.Errorf("gemini provider is not configured")
		}
		return s.gemini.generate(ctx, req, model)
	}
}

// Embed generates a unit-length embedding vector. Embeddings always go
// through Gemini; there is no Anthropic embedding API.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.gemini == nil {
		return nil, fmt.Errorf("embeddings require the gemini provider")
	}
	return s.gemini.embed(ctx, text)
}

// AnalyzeImage fetches the image and describes it with the vision model.
func (s *Service) AnalyzeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", fmt.Errorf("image url is required")
	}

	imageData, mimeType, err := httpclient.FetchBytes(ctx, s.httpClient, imageURL, 0)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("url is not an image: content type %s", mimeType)
	}

	model := s.config.Media.AnalysisModel
	provider := DetectProvider(model, s.config.LLM.DefaultProvider)

	s.logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Str("mime_type", mimeType).
		Int("image_bytes", len(imageData)).
		Msg("Analyzing image")

	switch provider {
	case ProviderClaude:
		if s.claude == nil {
			return "", fmt.Errorf("claude provider is not configured")
		}
		return s.claude.analyzeImage(ctx, imageData, mimeType, prompt, NormalizeModel(model))
	default:
		if s.gemini == nil {
			return "", fmt.Errorf("gemini provider is not configured")
		}
		return s.gemini.analyzeImage(ctx, imageData, mimeType, prompt, NormalizeModel(model))
	}
}

// HealthCheck probes the default provider with a minimal completion, and the
// embedding model when Gemini is configured.
func (s *Service) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	probe := &interfaces.CompletionRequest{
		Messages: []interfaces.Message{{Role: "user", Content: "ping"}},
	}
	resp, err := s.Complete(probeCtx, probe)
	if err != nil {
		return fmt.Errorf("completion probe failed: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return fmt.Errorf("completion probe returned empty response")
	}

	if s.gemini != nil {
		embedding, err := s.gemini.embed(probeCtx, "health check probe")
		if err != nil {
			return fmt.Errorf("embedding probe failed: %w", err)
		}
		if len(embedding) == 0 {
			return fmt.Errorf("embedding probe returned empty vector")
		}
	}

	s.logger.Debug().Msg("LLM service health check passed")
	return nil
}

// Close releases provider clients.
func (s *Service) Close() error {
	if s.gemini != nil {
		s.gemini.close()
		s.gemini = nil
	}
	if s.claude != nil {
		s.claude.close()
		s.claude = nil
	}
	return nil
}

func (s *Service) providerFor(name string) (ProviderType, error) {
	switch ProviderType(name) {
	case ProviderClaude:
		if s.claude == nil {
			return "", fmt.Errorf("claude provider is not configured")
		}
		return ProviderClaude, nil
	case ProviderGemini:
		if s.gemini == nil {
			return "", fmt.Errorf("gemini provider is not configured")
		}
		return ProviderGemini, nil
	default:
		return "", fmt.Errorf("unknown provider %q", name)
	}
}

var _ interfaces.LLMService = (*Service)(nil)
