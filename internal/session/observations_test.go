package session

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

func eventAt(id, payload string, ts time.Time) types.Event {
	return types.Event{
		EventID:         id,
		MemorySessionID: "s1",
		Kind:            types.EventMessage,
		Payload:         payload,
		Timestamp:       ts,
	}
}

func TestSegment_SplitsOnTimeGap(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{
		eventAt("e1", "debugging the retry logic", base),
		eventAt("e2", "retry logic fixed", base.Add(5*time.Minute)),
		eventAt("e3", "retry logic revisited", base.Add(2*time.Hour)),
	}

	segments := segment(events)
	require.Len(t, segments, 2)
	assert.Len(t, segments[0], 2)
	assert.Len(t, segments[1], 1)
}

func TestSegment_SplitsOnTopicShift(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{
		eventAt("e1", "debugging the retry logic", base),
		eventAt("e2", "completely unrelated database migration", base.Add(time.Minute)),
	}

	segments := segment(events)
	require.Len(t, segments, 2)
}

func TestSegment_TokenlessEventsStayWithRun(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{
		eventAt("e1", "debugging the retry logic", base),
		eventAt("e2", "!!", base.Add(time.Minute)),
		eventAt("e3", "retry logic done", base.Add(2*time.Minute)),
	}

	segments := segment(events)
	require.Len(t, segments, 1)
	assert.Len(t, segments[0], 3)
}

func TestSegment_SplitsOnSize(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	var events []types.Event
	for i := 0; i < maxSegmentSize+1; i++ {
		events = append(events, eventAt(fmt.Sprintf("e%d", i), "retry logic step", base.Add(time.Duration(i)*time.Second)))
	}

	segments := segment(events)
	require.Len(t, segments, 2)
	assert.Len(t, segments[0], maxSegmentSize)
}

func TestExtract_ValidatesCategoriesAndEvidence(t *testing.T) {
	gw := mock.New(8)
	gw.Queue(`{"observations":[
		{"category":"decision","text":"Chose chromem as the default vector backend.","evidence_event_ids":["e1","made-up"]},
		{"category":"nonsense","text":"Something significant happened.","evidence_event_ids":[]}
	]}`)

	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{eventAt("e1", "picked chromem over pgvector", base)}

	x := &extractor{gw: gw}
	obs, err := x.extract(context.Background(), "s1", events)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, types.ObservationDecision, obs[0].Category)
	assert.Equal(t, []string{"e1"}, obs[0].EvidenceEventIDs, "hallucinated evidence ids are dropped")
	assert.Equal(t, "s1", obs[0].MemorySessionID)
	assert.NotEmpty(t, obs[0].ObservationID)

	assert.Equal(t, types.ObservationOther, obs[1].Category, "unknown categories default to other")
}

func TestExtract_AllSegmentsFailed(t *testing.T) {
	gw := mock.New(8)
	// No scripted responses: every segment's extraction call fails.
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{eventAt("e1", "something happened", base)}

	x := &extractor{gw: gw}
	_, err := x.extract(context.Background(), "s1", events)
	require.Error(t, err)
}

func TestExtract_CapsObservationsPerRun(t *testing.T) {
	gw := mock.New(8)
	var items string
	for i := 0; i < maxObsPerRun+5; i++ {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"category":"other","text":"observation %d"}`, i)
	}
	gw.Queue(`{"observations":[` + items + `]}`)

	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	events := []types.Event{eventAt("e1", "lots happened", base)}

	x := &extractor{gw: gw}
	obs, err := x.extract(context.Background(), "s1", events)
	require.NoError(t, err)
	assert.Len(t, obs, maxObsPerRun)
}
