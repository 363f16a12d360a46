package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"

	"github.com/simplemem/simplemem/pkg/types"
)

// VectorIndex is the dense-vector view of the triple index: approximate
// nearest-neighbour search over unit embeddings with cosine similarity.
// Scores returned by Search are monotonic in similarity.
type VectorIndex interface {
	Add(ctx context.Context, id string, embedding []float32, text string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query []float32, k int) ([]types.ScoredUnit, error)
	Count() int
	Close() error
}

// chromemIndex implements VectorIndex on chromem-go, a pure Go embedded
// vector database persisted under the tenant directory.
type chromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// openChromemIndex opens (or creates) the tenant's persistent collection.
func openChromemIndex(dir string) (VectorIndex, error) {
	path := filepath.Join(dir, "vectors")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}

	// Embeddings are always supplied by the caller; the embedding func must
	// never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vector index received no precomputed embedding")
	}

	collection, err := db.GetOrCreateCollection("units", nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open units collection: %w", err)
	}

	return &chromemIndex{db: db, collection: collection}, nil
}

func (c *chromemIndex) Add(ctx context.Context, id string, embedding []float32, text string) error {
	return c.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: embedding,
	})
}

func (c *chromemIndex) Delete(ctx context.Context, id string) error {
	return c.collection.Delete(ctx, nil, nil, id)
}

func (c *chromemIndex) Search(ctx context.Context, query []float32, k int) ([]types.ScoredUnit, error) {
	// chromem rejects nResults above the collection size.
	if count := c.collection.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]types.ScoredUnit, 0, len(results))
	for _, r := range results {
		out = append(out, types.ScoredUnit{ID: r.ID, Score: float64(r.Similarity)})
	}
	return out, nil
}

func (c *chromemIndex) Count() int { return c.collection.Count() }

func (c *chromemIndex) Close() error { return nil }
