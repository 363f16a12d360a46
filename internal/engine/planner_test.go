package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/internal/provider/mock"
	"github.com/simplemem/simplemem/pkg/types"
)

func TestPlan_GatewayFailureDegradesToDefault(t *testing.T) {
	gw := mock.New(8)
	gw.Err = errors.New("provider down")

	p := NewPlanner(gw, 10)
	plan := p.Plan(context.Background(), "where does Alice live", nil)

	assert.Equal(t, "where does Alice live", plan.QSem)
	assert.Equal(t, []string{"alice", "live"}, plan.QLex)
	assert.Nil(t, plan.QSym)
	assert.Equal(t, 10, plan.Depth)
	assert.Equal(t, types.IntentUnknown, plan.Intent)
}

func TestPlan_EmptyQSemDegradesToDefault(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"","intent":"lookup"}`)

	p := NewPlanner(gw, 7)
	plan := p.Plan(context.Background(), "what happened", nil)
	assert.Equal(t, "what happened", plan.QSem)
	assert.Equal(t, 7, plan.Depth)
}

func TestPlan_LookupDepth(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"Alice's city of residence","q_lex":["alice","city"],"intent":"lookup"}`)

	plan := NewPlanner(gw, 10).Plan(context.Background(), "where does Alice live", nil)
	assert.Equal(t, types.IntentLookup, plan.Intent)
	assert.Equal(t, depthLookup, plan.Depth)
	assert.Equal(t, []string{"alice", "city"}, plan.QLex)
}

func TestPlan_AggregationDepth(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"everything about the migration project","intent":"aggregation"}`)

	plan := NewPlanner(gw, 10).Plan(context.Background(), "summarise the migration", nil)
	assert.Equal(t, types.IntentAggregation, plan.Intent)
	assert.Equal(t, depthAggregation, plan.Depth)
}

func TestPlan_UnknownIntentNormalised(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"something","intent":"banana"}`)

	plan := NewPlanner(gw, 10).Plan(context.Background(), "q", nil)
	assert.Equal(t, types.IntentUnknown, plan.Intent)
	assert.Equal(t, 10, plan.Depth)
}

func TestPlan_ParsesSymbolicFilter(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"meetings with Bob last week","q_lex":["bob","meeting"],` +
		`"q_sym":{"after":"2025-05-01T00:00:00Z","before":"2025-05-08T00:00:00Z","persons":["Bob"],"entities":[]},` +
		`"intent":"temporal"}`)

	plan := NewPlanner(gw, 10).Plan(context.Background(), "meetings with Bob last week", nil)
	require.NotNil(t, plan.QSym)
	require.NotNil(t, plan.QSym.After)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), *plan.QSym.After)
	require.NotNil(t, plan.QSym.Before)
	assert.Equal(t, []string{"Bob"}, plan.QSym.Persons)
	assert.Equal(t, types.IntentTemporal, plan.Intent)
}

func TestPlan_EmptySymbolicFilterDropped(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"q_sem":"something","q_sym":{"after":"","before":"","persons":[],"entities":[]},"intent":"unknown"}`)

	plan := NewPlanner(gw, 10).Plan(context.Background(), "q", nil)
	assert.Nil(t, plan.QSym, "a filter with no constraints must not reach the symbolic view")
}
