package interfaces

import (
	"context"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Message is a single turn in a completion conversation.
type Message struct {
	// Role identifies the sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// CompletionRequest describes one provider call. OutputSchema, when set,
// requests structured JSON output matching the schema (providers that support
// response schemas enforce it; others receive it as a prompt instruction).
type CompletionRequest struct {
	Messages          []Message
	Model             string
	Temperature       float32
	MaxTokens         int
	SystemInstruction string
	OutputSchema      map[string]interface{}
}

// CompletionResponse carries the provider output and usage metrics.
type CompletionResponse struct {
	Text     string
	Provider string
	Model    string
	Usage    models.UsageMetrics
}

// LLMService is the classification/generation model collaborator. The
// provider supplies only in-call rate-limit retries; stage-level retry and
// backoff belong to the orchestrator.
type LLMService interface {
	// Complete generates a response for the request, honoring the output
	// schema when the provider supports structured output.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Embed generates a normalized (unit-length) embedding vector for the
	// given text, suitable for inner-product similarity.
	Embed(ctx context.Context, text string) ([]float32, error)

	// AnalyzeImage describes an image fetched from a URL, guided by the
	// prompt. Used for media context enrichment and the image analysis tool.
	AnalyzeImage(ctx context.Context, imageURL, prompt string) (string, error)

	// HealthCheck verifies the configured provider can handle requests.
	HealthCheck(ctx context.Context) error

	Close() error
}
