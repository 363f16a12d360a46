// Package engine implements the memory pipeline: compression of dialogue
// into atomic units, online synthesis of related units, intent-aware query
// planning, multi-view retrieval, and grounded answer composition. Every
// component parameterizes over the provider gateway; none holds state beyond
// the borrowed tenant handle for one request.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/pkg/types"
)

// densityThreshold is the minimum informativeness score (0-10) a window must
// reach before atomicization. Windows that fail to yield a parseable score
// are kept rather than dropped.
const densityThreshold = 3.0

// Turn is one dialogue turn handed to the compressor.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Compressor turns windowed dialogue into atomic memory units with resolved
// coreferences and absolute timestamps.
type Compressor struct {
	gw      provider.Gateway
	window  int
	overlap int
}

// NewCompressor creates a compressor with window size w and overlap o turns
// between consecutive windows. Overlap keeps facts that span a window
// boundary from being lost.
func NewCompressor(gw provider.Gateway, w, o int) *Compressor {
	if w <= 0 {
		w = 10
	}
	if o < 0 || o >= w {
		o = 0
	}
	return &Compressor{gw: gw, window: w, overlap: o}
}

// Compress runs the full pipeline over turns: density gate, atomicization,
// embedding, token and metadata extraction. The anchor clock resolves
// relative times; sessionID and eventIDs are threaded into unit metadata
// when the turns came from the cross-session pipeline.
//
// A provider failure aborts the current window with no partial units from
// it; units from previously completed windows are returned alongside the
// error so the caller can decide whether to retry.
func (c *Compressor) Compress(ctx context.Context, turns []Turn, anchor time.Time, sessionID string, eventIDs []string) ([]*types.Unit, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	}

	var units []*types.Unit
	step := c.window - c.overlap

	for start := 0; start < len(turns); start += step {
		end := start + c.window
		if end > len(turns) {
			end = len(turns)
		}

		windowUnits, err := c.compressWindow(ctx, turns[start:end], anchor, sessionID, eventIDs)
		if err != nil {
			return units, fmt.Errorf("compress window at turn %d: %w", start, err)
		}
		units = append(units, windowUnits...)

		if end == len(turns) {
			break
		}
	}
	return units, nil
}

// compressWindow handles a single window: gate, atomicize, index.
func (c *Compressor) compressWindow(ctx context.Context, turns []Turn, anchor time.Time, sessionID string, eventIDs []string) ([]*types.Unit, error) {
	window := renderWindow(turns)

	// Density gate. A window below the threshold carries nothing worth
	// remembering; drop it without an atomicization round-trip.
	var density densityResponse
	err := c.gw.ChatJSON(ctx, "You rate conversation excerpts for factual density.",
		[]provider.Message{{Role: provider.RoleUser, Content: densityPrompt(window)}},
		[]byte(densitySchema), &density)
	if err != nil {
		return nil, err
	}
	if density.Score < densityThreshold {
		return nil, nil
	}

	// Atomicization: self-contained statements with metadata in one call.
	var atomicized atomicizeResponse
	err = c.gw.ChatJSON(ctx, "You extract atomic, self-contained memory statements.",
		[]provider.Message{{Role: provider.RoleUser, Content: atomicizePrompt(window, anchor)}},
		[]byte(atomicizeSchema), &atomicized)
	if err != nil {
		return nil, err
	}
	if len(atomicized.Statements) == 0 {
		return nil, nil
	}

	texts := make([]string, len(atomicized.Statements))
	for i, s := range atomicized.Statements {
		texts[i] = s.Text
	}
	embeddings, err := c.gw.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	units := make([]*types.Unit, 0, len(atomicized.Statements))
	for i, s := range atomicized.Statements {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, s.TimestampUTC)
		if err != nil {
			// An unparseable timestamp falls back to the anchor rather
			// than violating the absolute-UTC invariant.
			ts = anchor
		}
		units = append(units, &types.Unit{
			Text:      s.Text,
			Embedding: embeddings[i],
			Tokens:    Tokenize(s.Text),
			Kind:      types.KindAtomic,
			Metadata: types.UnitMetadata{
				TimestampUTC:    ts.UTC(),
				Entities:        s.Entities,
				Persons:         s.Persons,
				SourceSessionID: sessionID,
				SourceEventIDs:  eventIDs,
			},
		})
	}
	return units, nil
}

// renderWindow formats turns for the prompts, timestamp first so the model
// can anchor relative phrases per turn.
func renderWindow(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		ts := ""
		if !t.Timestamp.IsZero() {
			ts = t.Timestamp.UTC().Format(time.RFC3339) + " "
		}
		speaker := t.Speaker
		if speaker == "" {
			speaker = "user"
		}
		fmt.Fprintf(&b, "%s%s: %s\n", ts, speaker, t.Content)
	}
	return b.String()
}
