package engine

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

// View weights for the merged ranking.
const (
	weightSemantic = 0.6
	weightLexical  = 0.3
	weightSymbolic = 0.1

	// childWeight discounts one-hop child evidence relative to its parent.
	childWeight = 0.5

	// recallBoost is added to a unit's decay score each time it is
	// retrieved, anchoring it against consolidation pruning.
	recallBoost = 0.2
)

// Retriever executes a Plan across the three tenant views in parallel and
// merges the results into a single ranked list.
type Retriever struct {
	gw      provider.Gateway
	timeout time.Duration
}

func NewRetriever(gw provider.Gateway, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retriever{gw: gw, timeout: timeout}
}

// viewResult captures one view's outcome. Views degrade independently: a
// failed view contributes nothing instead of failing the whole retrieval.
type viewResult struct {
	scored []types.ScoredUnit
	ran    bool
	err    error
}

// Retrieve runs the plan and returns the top plan.Depth units. It fails only
// when every view that ran failed; a view that succeeded with no matches is
// a result, not a failure. The view deadline covers only the fan-out: merge
// and hydration run on the caller's context, so whatever ranked set has
// materialized when the deadline fires is still returned.
func (r *Retriever) Retrieve(ctx context.Context, t *store.Tenant, plan *types.Plan) ([]types.Unit, error) {
	viewCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	depth := plan.Depth
	if depth <= 0 {
		depth = 10
	}
	// Each view over-fetches so the merge has material to rank.
	fetchK := depth * 2

	var sem, lex, sym viewResult
	g, gctx := errgroup.WithContext(viewCtx)

	g.Go(func() error {
		if plan.QSem == "" {
			return nil
		}
		sem.ran = true
		sem.scored, sem.err = r.semanticView(gctx, t, plan.QSem, fetchK)
		return nil
	})
	g.Go(func() error {
		if len(plan.QLex) == 0 {
			return nil
		}
		lex.ran = true
		lex.scored, lex.err = t.LexicalSearch(gctx, plan.QLex, fetchK)
		return nil
	})
	g.Go(func() error {
		if plan.QSym.Empty() {
			return nil
		}
		sym.ran = true
		ids, err := t.SymbolicFilter(gctx, plan.QSym, fetchK)
		if err != nil {
			sym.err = err
			return nil
		}
		for _, id := range ids {
			sym.scored = append(sym.scored, types.ScoredUnit{ID: id, Score: 1})
		}
		return nil
	})
	_ = g.Wait()

	var firstErr error
	anyOK := false
	for _, vr := range []viewResult{sem, lex, sym} {
		switch {
		case !vr.ran:
		case vr.err != nil:
			log.Printf("retrieve: view degraded: %v", vr.err)
			if firstErr == nil {
				firstErr = vr.err
			}
		default:
			anyOK = true
		}
	}
	if !anyOK && firstErr != nil {
		return nil, firstErr
	}

	ranked := mergeViews(sem.scored, lex.scored, sym.scored)
	units, err := r.resolve(ctx, t, ranked, depth)
	if err != nil {
		return nil, err
	}

	r.boostRecall(ctx, t, units)
	return units, nil
}

// semanticView embeds the paraphrase and searches the vector index.
func (r *Retriever) semanticView(ctx context.Context, t *store.Tenant, qsem string, k int) ([]types.ScoredUnit, error) {
	vecs, err := r.gw.Embed(ctx, []string{qsem})
	if err != nil {
		return nil, err
	}
	return t.VectorSearch(ctx, vecs[0], k)
}

// mergeViews deduplicates by id and ranks by the weighted sum of per-view
// min-max-normalised scores. Symbolic membership is a binary boost.
func mergeViews(sem, lex, sym []types.ScoredUnit) []types.ScoredUnit {
	scores := make(map[string]float64)

	for id, s := range normalize(sem) {
		scores[id] += weightSemantic * s
	}
	for id, s := range normalize(lex) {
		scores[id] += weightLexical * s
	}
	for _, su := range sym {
		scores[su.ID] += weightSymbolic
	}

	merged := make([]types.ScoredUnit, 0, len(scores))
	for id, s := range scores {
		merged = append(merged, types.ScoredUnit{ID: id, Score: s})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID > merged[j].ID
	})
	return merged
}

// normalize min-max scales a view's scores into [0,1]. A single-element or
// constant-score view maps to 1.
func normalize(scored []types.ScoredUnit) map[string]float64 {
	if len(scored) == 0 {
		return nil
	}
	lo, hi := scored[0].Score, scored[0].Score
	for _, s := range scored[1:] {
		if s.Score < lo {
			lo = s.Score
		}
		if s.Score > hi {
			hi = s.Score
		}
	}

	out := make(map[string]float64, len(scored))
	for _, s := range scored {
		if hi == lo {
			out[s.ID] = 1
			continue
		}
		out[s.ID] = (s.Score - lo) / (hi - lo)
	}
	return out
}

// resolve loads the ranked units, expands synthesized units by one hop of
// children at reduced weight, re-sorts, and truncates to depth.
func (r *Retriever) resolve(ctx context.Context, t *store.Tenant, ranked []types.ScoredUnit, depth int) ([]types.Unit, error) {
	top := ranked
	if len(top) > depth {
		top = top[:depth]
	}
	ids := make([]string, len(top))
	score := make(map[string]float64, len(top))
	for i, s := range top {
		ids[i] = s.ID
		score[s.ID] = s.Score
	}

	units, err := t.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	// One-hop expansion: children of synthesized hits ride along as
	// supporting evidence.
	var childIDs []string
	for _, u := range units {
		if u.Kind != types.KindSynthesized {
			continue
		}
		for _, cid := range u.Children {
			if _, seen := score[cid]; seen {
				continue
			}
			score[cid] = score[u.ID] * childWeight
			childIDs = append(childIDs, cid)
		}
	}
	if len(childIDs) > 0 {
		children, err := t.Get(ctx, childIDs)
		if err != nil {
			return nil, err
		}
		units = append(units, children...)
	}

	sort.Slice(units, func(i, j int) bool {
		si, sj := score[units[i].ID], score[units[j].ID]
		if si != sj {
			return si > sj
		}
		ti, tj := units[i].Metadata.TimestampUTC, units[j].Metadata.TimestampUTC
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return units[i].ID > units[j].ID
	})
	if len(units) > depth {
		units = units[:depth]
	}
	return units, nil
}

// boostRecall bumps the decay score and access time of every retrieved
// unit. Best effort: a failed bump never fails the query.
func (r *Retriever) boostRecall(ctx context.Context, t *store.Tenant, units []types.Unit) {
	now := time.Now().UTC()
	for _, u := range units {
		score := u.ScoreDecay + recallBoost
		if err := t.Update(ctx, u.ID, types.UnitPatch{
			ScoreDecay:     &score,
			LastAccessedAt: &now,
		}); err != nil {
			log.Printf("retrieve: recall boost %s: %v", u.ID, err)
		}
	}
}
