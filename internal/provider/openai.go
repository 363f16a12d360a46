package provider

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/pkg/types"
)

// Factory builds per-tenant gateways that share one HTTP connection pool,
// rate limiter, circuit breaker, and embedding cache. The shared pieces are
// process-wide singletons created once at startup.
type Factory struct {
	cfg        *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	embedCache *ristretto.Cache
}

// NewFactory creates the shared gateway infrastructure.
func NewFactory(cfg *config.Config) (*Factory, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // 64 MiB of cached embeddings
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: embedding cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Factory{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.LLM.CallTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		breaker:    breaker,
		embedCache: cache,
	}, nil
}

// ForTenant returns a Gateway bound to the tenant's decrypted provider key.
func (f *Factory) ForTenant(apiKey string) Gateway {
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = f.cfg.ProviderBaseURL()
	clientCfg.HTTPClient = f.httpClient

	return &client{
		api:     openai.NewClientWithConfig(clientCfg),
		factory: f,
		model:   f.cfg.LLM.Model,
		embed:   f.cfg.LLM.EmbeddingModel,
		dim:     f.cfg.LLM.EmbeddingDimension,
	}
}

// client implements Gateway over an OpenAI-compatible endpoint.
type client struct {
	api     *openai.Client
	factory *Factory
	model   string
	embed   string
	dim     int
}

var _ Gateway = (*client)(nil)

// wrapAPIError converts a go-openai error into a typed ProviderError.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrDeadlineExceeded
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.NewProviderError(classify(apiErr.HTTPStatusCode, err), err)
	}
	// Network-level failure with no HTTP status: treat as transient.
	return types.NewProviderError(types.ProviderTransient, err)
}

// guarded runs fn behind the shared limiter, breaker, and retry loop.
func (c *client) guarded(ctx context.Context, fn func() error) error {
	cfg := defaultRetry
	cfg.maxAttempts = c.factory.cfg.LLM.MaxRetries
	return withRetry(ctx, cfg, func() error {
		if err := c.factory.limiter.Wait(ctx); err != nil {
			return types.ErrDeadlineExceeded
		}
		_, err := c.factory.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			return types.NewProviderError(types.ProviderTransient, err)
		}
		return err
	})
}

// Embed returns one vector per text, serving repeated texts from the cache.
// The response dimension is checked against the tenant configuration; a
// mismatch indicates a misconfigured embedding model and is permanent.
func (c *client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if cached, ok := c.factory.embedCache.Get(c.cacheKey(text)); ok {
			out[i] = cached.([]float32)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var resp openai.EmbeddingResponse
	err := c.guarded(ctx, func() error {
		var apiErr error
		resp, apiErr = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      missing,
			Model:      openai.EmbeddingModel(c.embed),
			Dimensions: c.dim,
		})
		return wrapAPIError(apiErr)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(missing) {
		return nil, types.NewProviderError(types.ProviderPermanent,
			fmt.Errorf("embedding count mismatch: want %d, got %d", len(missing), len(resp.Data)))
	}

	for j, d := range resp.Data {
		if len(d.Embedding) != c.dim {
			return nil, types.NewProviderError(types.ProviderPermanent,
				fmt.Errorf("embedding dimension mismatch: want %d, got %d", c.dim, len(d.Embedding)))
		}
		vec := make([]float32, c.dim)
		copy(vec, d.Embedding)
		out[missingIdx[j]] = vec
		c.factory.embedCache.Set(c.cacheKey(missing[j]), vec, int64(4*c.dim))
	}
	return out, nil
}

// Chat returns the raw completion text.
func (c *client) Chat(ctx context.Context, system string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages:    buildMessages(system, messages),
	}

	var resp openai.ChatCompletionResponse
	err := c.guarded(ctx, func() error {
		var apiErr error
		resp, apiErr = c.api.CreateChatCompletion(ctx, req)
		return wrapAPIError(apiErr)
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", types.NewProviderError(types.ProviderPermanent, fmt.Errorf("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.embed + ":" + fmt.Sprintf("%x", sum[:16])
}

func buildMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
