package engine

import (
	"context"
	"time"

	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

// Engine wires the pipeline components for one tenant request: dialogue in
// through compressor and synthesizer, queries out through planner, retriever,
// and answerer. It holds no per-tenant state; the tenant handle is borrowed
// per call.
type Engine struct {
	compressor  *Compressor
	synthesizer *Synthesizer
	planner     *Planner
	retriever   *Retriever
	answerer    *Answerer
}

// New builds an engine over a tenant-scoped gateway.
func New(gw provider.Gateway, cfg *config.Config) *Engine {
	return &Engine{
		compressor:  NewCompressor(gw, cfg.Memory.WindowSize, cfg.Memory.WindowOverlap),
		synthesizer: NewSynthesizer(gw),
		planner:     NewPlanner(gw, cfg.Memory.TopK),
		retriever:   NewRetriever(gw, cfg.LLM.CallTimeout),
		answerer:    NewAnswerer(gw),
	}
}

// Synthesizer exposes the write-path synthesizer for the consolidator's
// merge pass.
func (e *Engine) Synthesizer() *Synthesizer { return e.synthesizer }

// AddDialogue compresses turns into units and ingests each through the
// synthesizer. Returns the ids of the units that now carry the dialogue's
// facts. Units already ingested before a partial failure stay in the store;
// the returned error tells the caller the batch is incomplete.
func (e *Engine) AddDialogue(ctx context.Context, t *store.Tenant, turns []Turn, anchor time.Time, sessionID string, eventIDs []string) ([]string, error) {
	units, cerr := e.compressor.Compress(ctx, turns, anchor, sessionID, eventIDs)

	var ids []string
	for _, u := range units {
		id, err := e.synthesizer.Ingest(ctx, t, u)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, cerr
}

// Query plans, retrieves, and answers in one pass.
func (e *Engine) Query(ctx context.Context, t *store.Tenant, query string, history []string) (*types.Answer, []types.Unit, error) {
	plan := e.planner.Plan(ctx, query, history)

	units, err := e.retriever.Retrieve(ctx, t, plan)
	if err != nil {
		return nil, nil, err
	}

	answer, err := e.answerer.Answer(ctx, query, units)
	if err != nil {
		return nil, units, err
	}
	return answer, units, nil
}

// Retrieve runs plan+retrieve without answer composition. The context
// injector uses this to fill the session-start bundle.
func (e *Engine) Retrieve(ctx context.Context, t *store.Tenant, query string, depth int) ([]types.Unit, error) {
	plan := e.planner.Plan(ctx, query, nil)
	if depth > 0 {
		plan.Depth = depth
	}
	return e.retriever.Retrieve(ctx, t, plan)
}

// Delete tombstones a unit by id.
func (e *Engine) Delete(ctx context.Context, t *store.Tenant, id string) error {
	return t.Tombstone(ctx, id)
}
