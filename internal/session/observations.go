package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simplemem/simplemem/internal/engine"
	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/pkg/types"
)

// Segmentation heuristics. A run of events breaks when the gap between
// consecutive events exceeds segmentGap, or when an event shares no lexical
// tokens with the run so far.
const (
	segmentGap     = 30 * time.Minute
	maxSegmentSize = 40
	maxObsPerRun   = 10
)

// extractor turns a stopped session's events into categorized observations.
type extractor struct {
	gw provider.Gateway
}

// extract segments the events into topical runs and prompts the gateway for
// observations per run. A failed run degrades to no observations from that
// run; the caller falls back to summary-only when everything fails.
func (x *extractor) extract(ctx context.Context, sessionID string, events []types.Event) ([]types.Observation, error) {
	var out []types.Observation
	var firstErr error

	for _, seg := range segment(events) {
		obs, err := x.extractSegment(ctx, sessionID, seg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, obs...)
	}

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (x *extractor) extractSegment(ctx context.Context, sessionID string, events []types.Event) ([]types.Observation, error) {
	var resp observationResponse
	err := x.gw.ChatJSON(ctx, "You extract significant observations from work-session logs.",
		[]provider.Message{{Role: provider.RoleUser, Content: observationPrompt(events)}},
		[]byte(observationSchema), &resp)
	if err != nil {
		return nil, fmt.Errorf("extract observations: %w", err)
	}

	known := make(map[string]bool, len(events))
	for _, ev := range events {
		known[ev.EventID] = true
	}

	obs := make([]types.Observation, 0, len(resp.Observations))
	for i, o := range resp.Observations {
		if i >= maxObsPerRun {
			break
		}
		if strings.TrimSpace(o.Text) == "" {
			continue
		}
		cat := types.ObservationCategory(o.Category)
		switch cat {
		case types.ObservationDecision, types.ObservationDiscovery, types.ObservationLearning:
		default:
			cat = types.ObservationOther
		}
		evidence := make([]string, 0, len(o.EvidenceEventIDs))
		for _, id := range o.EvidenceEventIDs {
			if known[id] {
				evidence = append(evidence, id)
			}
		}
		obs = append(obs, types.Observation{
			ObservationID:    uuid.NewString(),
			MemorySessionID:  sessionID,
			Category:         cat,
			Text:             o.Text,
			EvidenceEventIDs: evidence,
		})
	}
	return obs, nil
}

// segment splits events into topical runs by time gap and lexical overlap.
// Events arrive ordered by Seq.
func segment(events []types.Event) [][]types.Event {
	var segments [][]types.Event
	var current []types.Event
	currentTokens := make(map[string]bool)

	flush := func() {
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
			currentTokens = make(map[string]bool)
		}
	}

	for _, ev := range events {
		tokens := engine.Tokenize(ev.Payload)

		if len(current) > 0 {
			gap := ev.Timestamp.Sub(current[len(current)-1].Timestamp)
			if gap > segmentGap || len(current) >= maxSegmentSize || !overlaps(tokens, currentTokens) {
				flush()
			}
		}
		current = append(current, ev)
		for _, tok := range tokens {
			currentTokens[tok] = true
		}
	}
	flush()
	return segments
}

// overlaps reports whether any token appears in the running set. Events with
// no extractable tokens stay with the current run.
func overlaps(tokens []string, set map[string]bool) bool {
	if len(tokens) == 0 || len(set) == 0 {
		return true
	}
	for _, tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

func observationPrompt(events []types.Event) string {
	var log strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&log, "[%s] %s (%s): %s\n",
			ev.EventID, ev.Timestamp.UTC().Format(time.RFC3339), ev.Kind, ev.Payload)
	}

	return fmt.Sprintf(`TASK: Extract the significant observations from a work-session event log.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

Categories:
- "decision": a choice was made (and why, when stated)
- "discovery": something was found out about the system or problem
- "learning": a lesson or technique worth keeping
- "other": significant but none of the above

RULES (STRICT):
1. Each observation is one self-contained sentence.
2. "evidence_event_ids" lists the bracketed event ids the observation is based on.
3. Skip routine chatter; only record what is worth remembering across sessions.

REQUIRED JSON STRUCTURE:
{"observations":[{"category":"decision","text":"...","evidence_event_ids":["ev-1"]}]}

EVENT LOG:
%s
RESPOND WITH ONLY THE JSON OBJECT:`, log.String())
}

const observationSchema = `{
	"type": "object",
	"required": ["observations"],
	"properties": {
		"observations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["category", "text"],
				"properties": {
					"category": {"type": "string", "enum": ["decision", "discovery", "learning", "other"]},
					"text": {"type": "string"},
					"evidence_event_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

type observationResponse struct {
	Observations []struct {
		Category         string   `json:"category"`
		Text             string   `json:"text"`
		EvidenceEventIDs []string `json:"evidence_event_ids"`
	} `json:"observations"`
}
