// Package mock provides a deterministic in-process Gateway for tests.
// Embeddings are derived from token hashes so that texts sharing words get
// high cosine similarity, and chat completions are served from a scripted
// queue or a caller-supplied handler.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/simplemem/simplemem/internal/provider"
)

// Gateway is a scriptable provider.Gateway.
type Gateway struct {
	// Dim is the embedding dimension to emit. Defaults to 64.
	Dim int

	// ChatFunc, when set, handles every Chat and ChatJSON call.
	ChatFunc func(ctx context.Context, system string, messages []provider.Message) (string, error)

	// Err, when set, is returned by every call.
	Err error

	mu        sync.Mutex
	responses []string
	calls     []string
}

var _ provider.Gateway = (*Gateway)(nil)

// New returns a mock gateway with the given embedding dimension.
func New(dim int) *Gateway {
	if dim <= 0 {
		dim = 64
	}
	return &Gateway{Dim: dim}
}

// Queue appends scripted chat responses, consumed in order.
func (g *Gateway) Queue(responses ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, responses...)
}

// Calls returns the system prompts of every chat call seen so far.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// Embed produces a unit-length vector per text by hashing whitespace tokens
// into buckets. Equal texts always map to equal vectors.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, g.Dim)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[int(h.Sum32())%g.Dim] += 1
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		} else {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

// Chat pops the next scripted response, or delegates to ChatFunc.
func (g *Gateway) Chat(ctx context.Context, system string, messages []provider.Message) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	g.mu.Lock()
	g.calls = append(g.calls, system)
	g.mu.Unlock()

	if g.ChatFunc != nil {
		return g.ChatFunc(ctx, system, messages)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.responses) == 0 {
		return "", fmt.Errorf("mock gateway: no scripted response for call %d", len(g.calls))
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

// ChatJSON runs Chat and unmarshals the extracted JSON object into out.
// Schema validation is skipped; tests script well-formed responses.
func (g *Gateway) ChatJSON(ctx context.Context, system string, messages []provider.Message, schema []byte, out any) error {
	raw, err := g.Chat(ctx, system, messages)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(provider.ExtractJSON(raw)), out)
}
