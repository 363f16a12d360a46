package engine

import (
	"context"
	"time"

	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/pkg/types"
)

// Retrieval depths per inferred intent. Lookups want a handful of precise
// hits; aggregations want broad coverage.
const (
	depthLookup      = 4
	depthAggregation = 20
)

// Planner turns a natural-language query into a Plan: one query per view
// plus the retrieval depth.
type Planner struct {
	gw       provider.Gateway
	topK     int
	maxDepth int
}

func NewPlanner(gw provider.Gateway, topK int) *Planner {
	if topK <= 0 {
		topK = 10
	}
	return &Planner{gw: gw, topK: topK, maxDepth: 50}
}

// Plan asks the gateway for a structured plan. When the call fails or
// returns garbage, planning degrades to a default plan rather than failing
// the whole query: q_sem = raw query, q_lex = tokenized query, no symbolic
// filter.
func (p *Planner) Plan(ctx context.Context, query string, history []string) *types.Plan {
	var resp plannerResponse
	err := p.gw.ChatJSON(ctx, "You plan memory retrieval queries.",
		[]provider.Message{{Role: provider.RoleUser, Content: plannerPrompt(query, history)}},
		[]byte(plannerSchema), &resp)
	if err != nil || resp.QSem == "" {
		return p.defaultPlan(query)
	}

	plan := &types.Plan{
		QSem:   resp.QSem,
		QLex:   resp.QLex,
		Intent: types.QueryIntent(resp.Intent),
	}
	switch plan.Intent {
	case types.IntentLookup, types.IntentAggregation, types.IntentTemporal:
	default:
		plan.Intent = types.IntentUnknown
	}

	if resp.QSym != nil {
		f := &types.SymbolicFilter{
			Persons:  resp.QSym.Persons,
			Entities: resp.QSym.Entities,
		}
		if ts, err := time.Parse(time.RFC3339, resp.QSym.After); err == nil {
			utc := ts.UTC()
			f.After = &utc
		}
		if ts, err := time.Parse(time.RFC3339, resp.QSym.Before); err == nil {
			utc := ts.UTC()
			f.Before = &utc
		}
		if !f.Empty() {
			plan.QSym = f
		}
	}

	plan.Depth = p.depthFor(plan.Intent)
	return plan
}

func (p *Planner) depthFor(intent types.QueryIntent) int {
	var d int
	switch intent {
	case types.IntentLookup:
		d = depthLookup
	case types.IntentAggregation:
		d = depthAggregation
	default:
		d = p.topK
	}
	if d > p.maxDepth {
		d = p.maxDepth
	}
	return d
}

// defaultPlan is the planner's degraded mode: search all views with the raw
// query and standard depth.
func (p *Planner) defaultPlan(query string) *types.Plan {
	return &types.Plan{
		QSem:   query,
		QLex:   Tokenize(query),
		Depth:  p.topK,
		Intent: types.IntentUnknown,
	}
}
