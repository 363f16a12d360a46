// Package provider implements the LLM/embedding gateway. All chat and
// embedding work in the system funnels through the Gateway interface; the
// single concrete backend speaks the OpenAI-compatible /v1 API exposed by
// LiteLLM, OpenRouter, and Ollama alike.
//
// Reliability is handled here so callers never see transient failures:
// bounded exponential-backoff retries, a circuit breaker, a per-backend
// rate limiter, a wall-clock cap per call, and an embedding cache.
package provider

import (
	"context"

	"github.com/simplemem/simplemem/pkg/types"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Gateway is the uniform capability interface the engine components
// parameterize over. Implementations must return embeddings of the
// dimension the tenant was configured with, and honor ctx deadlines.
type Gateway interface {
	// Embed returns one dense vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Chat returns the raw completion text for the given system prompt and
	// message history.
	Chat(ctx context.Context, system string, messages []Message) (string, error)

	// ChatJSON asks for a structured completion, validates the extracted
	// JSON object against schema (when non-nil), and unmarshals it into out.
	// A completion that fails validation is a permanent ProviderError.
	ChatJSON(ctx context.Context, system string, messages []Message, schema []byte, out any) error
}

// classify maps a raw provider failure onto a typed kind. Transient errors
// are retried by the gateway; the rest surface immediately.
func classify(statusCode int, err error) types.ProviderErrorKind {
	switch {
	case statusCode == 401 || statusCode == 403:
		return types.ProviderAuth
	case statusCode == 402 || statusCode == 429:
		return types.ProviderBudget
	case statusCode >= 500, statusCode == 0 && err != nil:
		return types.ProviderTransient
	default:
		return types.ProviderPermanent
	}
}
