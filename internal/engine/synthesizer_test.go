package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/internal/provider/mock"
	"github.com/simplemem/simplemem/pkg/types"
)

var ts1 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
var ts2 = time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)

func TestIngest_EmptyStoreInsertsDirectly(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	id, err := s.Ingest(context.Background(), tenant, u)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := tenant.Get(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice lives in Berlin.", got[0].Text)
	assert.Equal(t, types.KindAtomic, got[0].Kind)
	assert.Empty(t, gw.Calls(), "no synthesis call without candidates")
}

func TestIngest_KeepSeparate(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u1 := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	id1, err := s.Ingest(context.Background(), tenant, u1)
	require.NoError(t, err)

	gw.Queue(fmt.Sprintf(`{"verdicts":[{"id":%q,"verdict":"keep_separate"}],"merged_text":""}`, id1))
	u2 := newUnit(t, gw, "Alice works at Acme.", ts2)
	id2, err := s.Ingest(context.Background(), tenant, u2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	units, err := tenant.Get(context.Background(), []string{id1, id2})
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.False(t, u.Tombstoned)
	}
}

func TestIngest_CandidateSubsumesWritesNothing(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u1 := newUnit(t, gw, "Alice lives in Berlin with her cat.", ts1)
	id1, err := s.Ingest(context.Background(), tenant, u1)
	require.NoError(t, err)

	gw.Queue(fmt.Sprintf(`{"verdicts":[{"id":%q,"verdict":"candidate_subsumes_u"}],"merged_text":""}`, id1))
	u2 := newUnit(t, gw, "Alice lives in Berlin.", ts2)
	id, err := s.Ingest(context.Background(), tenant, u2)
	require.NoError(t, err)
	assert.Equal(t, id1, id, "the subsuming unit's id carries the fact")

	snapshot, err := tenant.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 1, "the subsumed unit must not be written")
}

func TestIngest_MergeIntoAbstraction(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u1 := newUnit(t, gw, "Alice lives in Berlin.", ts2)
	u1.Metadata.Entities = []string{"Berlin"}
	id1, err := s.Ingest(context.Background(), tenant, u1)
	require.NoError(t, err)

	gw.Queue(fmt.Sprintf(
		`{"verdicts":[{"id":%q,"verdict":"merge_into_new_abstraction"}],"merged_text":"Alice lives in Berlin and works at Acme."}`, id1))
	u2 := newUnit(t, gw, "Alice works at Acme.", ts1)
	u2.Metadata.Entities = []string{"Acme"}
	synID, err := s.Ingest(context.Background(), tenant, u2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, synID)

	syn, err := tenant.Get(context.Background(), []string{synID})
	require.NoError(t, err)
	require.Len(t, syn, 1)
	assert.Equal(t, types.KindSynthesized, syn[0].Kind)
	assert.Equal(t, "Alice lives in Berlin and works at Acme.", syn[0].Text)
	assert.ElementsMatch(t, []string{id1, u2.ID}, syn[0].Children)
	assert.Equal(t, ts1, syn[0].Metadata.TimestampUTC, "the abstraction carries the earliest timestamp")
	assert.ElementsMatch(t, []string{"Acme", "Berlin"}, syn[0].Metadata.Entities)
	assert.False(t, syn[0].Tombstoned)

	children, err := tenant.Get(context.Background(), syn[0].Children)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.True(t, c.Tombstoned, "merged children are tombstoned, not deleted")
	}
}

func TestIngest_ExistingIDIsIdempotent(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	id, err := s.Ingest(context.Background(), tenant, u)
	require.NoError(t, err)

	again := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	again.ID = id
	got, err := s.Ingest(context.Background(), tenant, again)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Empty(t, gw.Calls(), "re-ingesting a known id must not re-run synthesis")
}

func TestIngest_HallucinatedVerdictIgnored(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u1 := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	_, err := s.Ingest(context.Background(), tenant, u1)
	require.NoError(t, err)

	gw.Queue(`{"verdicts":[{"id":"no-such-unit","verdict":"candidate_subsumes_u"}],"merged_text":""}`)
	u2 := newUnit(t, gw, "Alice enjoys hiking in Berlin.", ts2)
	id2, err := s.Ingest(context.Background(), tenant, u2)
	require.NoError(t, err)

	got, err := tenant.Get(context.Background(), []string{id2})
	require.NoError(t, err)
	require.Len(t, got, 1, "a verdict naming an unknown id falls back to a plain insert")
}

func TestIngest_SameSessionFilterSkipsForeignCandidates(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	u1 := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	u1.Metadata.SourceSessionID = "session-a"
	_, err := s.Ingest(context.Background(), tenant, u1)
	require.NoError(t, err)

	// Nothing is queued: a synthesis call against the foreign-session
	// candidate would fail the test.
	u2 := newUnit(t, gw, "Alice lives in Berlin today.", ts2)
	u2.Metadata.SourceSessionID = "session-b"
	_, err = s.Ingest(context.Background(), tenant, u2)
	require.NoError(t, err)

	snapshot, err := tenant.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestMergePair_UnitSubsumesCandidate(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	a := newUnit(t, gw, "Alice lives in Berlin with her cat Momo.", ts1)
	a.ID = tenant.NewID()
	require.NoError(t, tenant.Insert(context.Background(), a))
	b := newUnit(t, gw, "Alice lives in Berlin.", ts2)
	b.ID = tenant.NewID()
	require.NoError(t, tenant.Insert(context.Background(), b))

	gw.Queue(fmt.Sprintf(`{"verdicts":[{"id":%q,"verdict":"u_subsumes_candidate"}],"merged_text":""}`, b.ID))
	ok, err := s.MergePair(context.Background(), tenant, *a, *b)
	require.NoError(t, err)
	require.True(t, ok)

	snapshot, err := tenant.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 3)

	var syn *types.Unit
	for i := range snapshot {
		if snapshot[i].Kind == types.KindSynthesized {
			syn = &snapshot[i]
			continue
		}
		assert.True(t, snapshot[i].Tombstoned)
	}
	require.NotNil(t, syn)
	assert.Equal(t, a.Text, syn.Text)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, syn.Children)
	assert.Equal(t, ts1, syn.Metadata.TimestampUTC)
}

func TestMergePair_KeepSeparateChangesNothing(t *testing.T) {
	gw := mock.New(testDim)
	tenant := newTestTenant(t)
	s := NewSynthesizer(gw)

	a := newUnit(t, gw, "Alice lives in Berlin.", ts1)
	a.ID = tenant.NewID()
	require.NoError(t, tenant.Insert(context.Background(), a))
	b := newUnit(t, gw, "Bob lives in Paris.", ts2)
	b.ID = tenant.NewID()
	require.NoError(t, tenant.Insert(context.Background(), b))

	gw.Queue(fmt.Sprintf(`{"verdicts":[{"id":%q,"verdict":"keep_separate"}],"merged_text":""}`, b.ID))
	ok, err := s.MergePair(context.Background(), tenant, *a, *b)
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot, err := tenant.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
	for _, u := range snapshot {
		assert.False(t, u.Tombstoned)
	}
}
