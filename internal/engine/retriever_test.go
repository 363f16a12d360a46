package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/internal/provider/mock"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

func insertUnit(t *testing.T, tenant *store.Tenant, u *types.Unit) string {
	t.Helper()
	u.ID = tenant.NewID()
	require.NoError(t, tenant.Insert(context.Background(), u))
	return u.ID
}

func TestRetrieve_SemanticRanking(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)

	alice := insertUnit(t, tenant, newUnit(t, gw, "Alice lives in Berlin.", ts1))
	insertUnit(t, tenant, newUnit(t, gw, "Bob prefers pizza from Naples.", ts2))

	r := NewRetriever(gw, time.Minute)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSem:  "Alice lives in Berlin.",
		Depth: 1,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, alice, units[0].ID)
}

func TestRetrieve_LexicalViewCarriesAFailedSemanticView(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	insertUnit(t, tenant, newUnit(t, gw, "Bob prefers pizza from Naples.", ts2))

	gw.Err = errors.New("embeddings down")
	r := NewRetriever(gw, time.Minute)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSem:  "pizza",
		QLex:  []string{"pizza"},
		Depth: 5,
	})
	require.NoError(t, err, "a live lexical view must carry a dead semantic view")
	require.Len(t, units, 1)
	assert.Contains(t, units[0].Text, "pizza")
}

func TestRetrieve_AllViewsFailed(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	insertUnit(t, tenant, newUnit(t, gw, "Alice lives in Berlin.", ts1))

	gw.Err = errors.New("embeddings down")
	r := NewRetriever(gw, time.Minute)
	_, err := r.Retrieve(context.Background(), tenant, &types.Plan{QSem: "alice", Depth: 5})
	require.Error(t, err)
}

func TestRetrieve_SymbolicViewOnly(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)

	u := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	u.Metadata.Persons = []string{"Alice"}
	id := insertUnit(t, tenant, u)
	insertUnit(t, tenant, newUnit(t, gw, "Bob prefers pizza from Naples.", ts2))

	r := NewRetriever(gw, time.Minute)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSym:  &types.SymbolicFilter{Persons: []string{"alice"}},
		Depth: 5,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, id, units[0].ID)
}

func TestRetrieve_ExpandsSynthesizedChildren(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)

	child := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	childID := insertUnit(t, tenant, child)

	parent := newUnit(t, gw, "Alice lives in Berlin and works at Acme.", ts2)
	parent.Kind = types.KindSynthesized
	parent.Children = []string{childID}
	parentID := insertUnit(t, tenant, parent)
	require.NoError(t, tenant.Tombstone(context.Background(), childID))

	r := NewRetriever(gw, time.Minute)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSem:  "Alice lives in Berlin and works at Acme.",
		Depth: 5,
	})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, parentID, units[0].ID, "the parent outranks its discounted child")
	assert.Equal(t, childID, units[1].ID, "tombstoned children remain resolvable as evidence")
}

func TestRetrieve_BoostsRecalledUnits(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	id := insertUnit(t, tenant, newUnit(t, gw, "Alice lives in Berlin.", ts1))

	r := NewRetriever(gw, time.Minute)
	_, err := r.Retrieve(context.Background(), tenant, &types.Plan{QSem: "Alice lives in Berlin.", Depth: 1})
	require.NoError(t, err)

	got, err := tenant.Get(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.2, got[0].ScoreDecay, 1e-9, "retrieval adds the recall boost")
	assert.False(t, got[0].LastAccessedAt.IsZero())
}

// stalledEmbedGateway blocks every embedding call until its context gives
// up, simulating a provider that outlives the view deadline.
type stalledEmbedGateway struct {
	*mock.Gateway
}

func (g *stalledEmbedGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_ViewDeadlineKeepsMaterializedResults(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	insertUnit(t, tenant, newUnit(t, gw, "Bob prefers pizza from Naples.", ts2))

	slow := &stalledEmbedGateway{Gateway: gw}
	r := NewRetriever(slow, 50*time.Millisecond)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSem:  "pizza",
		QLex:  []string{"pizza"},
		Depth: 5,
	})
	require.NoError(t, err, "a timed-out semantic view must not discard the lexical results")
	require.Len(t, units, 1)
	assert.Contains(t, units[0].Text, "pizza")
}

func TestRetrieve_SucceededEmptyViewIsNotAFailure(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	insertUnit(t, tenant, newUnit(t, gw, "Alice lives in Berlin.", ts1))

	gw.Err = errors.New("embeddings down")
	r := NewRetriever(gw, time.Minute)
	units, err := r.Retrieve(context.Background(), tenant, &types.Plan{
		QSem:  "quantum",
		QLex:  []string{"quantum"},
		Depth: 5,
	})
	require.NoError(t, err, "a lexical view that matched nothing still succeeded")
	assert.Empty(t, units)
}

func TestRetrieve_WiderLexicalQueryKeepsNarrowerRecall(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)

	insertUnit(t, tenant, newUnit(t, gw, "Alice lives in Berlin.", ts1))
	insertUnit(t, tenant, newUnit(t, gw, "Bob prefers pizza from Naples.", ts2))
	insertUnit(t, tenant, newUnit(t, gw, "Carol moved to Berlin for pizza.", ts2))

	r := NewRetriever(gw, time.Minute)
	narrow, err := r.Retrieve(context.Background(), tenant, &types.Plan{QLex: []string{"berlin"}, Depth: 10})
	require.NoError(t, err)
	wide, err := r.Retrieve(context.Background(), tenant, &types.Plan{QLex: []string{"berlin", "pizza"}, Depth: 10})
	require.NoError(t, err)

	ids := func(units []types.Unit) []string {
		out := make([]string, len(units))
		for i, u := range units {
			out[i] = u.ID
		}
		return out
	}
	require.NotEmpty(t, narrow)
	assert.Subset(t, ids(wide), ids(narrow), "adding query terms never loses previously matched units")
	assert.GreaterOrEqual(t, len(wide), len(narrow))
}

func TestMergeViews_WeightsAndTieBreak(t *testing.T) {
	sem := []types.ScoredUnit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.1}}
	lex := []types.ScoredUnit{{ID: "b", Score: 5}, {ID: "c", Score: 1}}
	sym := []types.ScoredUnit{{ID: "c", Score: 1}}

	merged := mergeViews(sem, lex, sym)
	require.Len(t, merged, 3)
	// a: 0.6*1; b: 0.6*0 + 0.3*1; c: 0.3*0 + 0.1.
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
	assert.Equal(t, "c", merged[2].ID)
}

func TestNormalize_ConstantScoresMapToOne(t *testing.T) {
	out := normalize([]types.ScoredUnit{{ID: "a", Score: 3}, {ID: "b", Score: 3}})
	assert.Equal(t, 1.0, out["a"])
	assert.Equal(t, 1.0, out["b"])
	assert.Nil(t, normalize(nil))
}
