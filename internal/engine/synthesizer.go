package engine

import (
	"context"
	"fmt"

	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

// candidateN is how many nearest neighbours the synthesizer considers per
// incoming unit.
const candidateN = 8

// maxChildDepth bounds the ancestry walk of the acyclicity check. Merge
// chains deeper than this indicate corruption, not legitimate structure.
const maxChildDepth = 64

// Synthesizer runs inside the write path of every new unit. It decides
// whether the unit duplicates or generalises existing memory and either
// inserts it as-is, folds it into a new abstraction, or drops it when an
// existing unit already subsumes it.
type Synthesizer struct {
	gw provider.Gateway
}

func NewSynthesizer(gw provider.Gateway) *Synthesizer {
	return &Synthesizer{gw: gw}
}

// Ingest writes u into the tenant store, synthesizing against its nearest
// neighbours. Returns the id of the unit that now carries u's fact: u
// itself, a new synthesized unit, or the existing unit that subsumes it.
//
// Ingest is idempotent: a unit whose id already exists in the store is
// left untouched.
func (s *Synthesizer) Ingest(ctx context.Context, t *store.Tenant, u *types.Unit) (string, error) {
	if u.ID != "" {
		existing, err := t.Get(ctx, []string{u.ID})
		if err != nil {
			return "", err
		}
		if len(existing) > 0 {
			return u.ID, nil
		}
	} else {
		u.ID = t.NewID()
	}
	if u.Kind == "" {
		u.Kind = types.KindAtomic
	}

	candidates, err := s.findCandidates(ctx, t, u)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return u.ID, t.Insert(ctx, u)
	}

	var resp synthesisResponse
	err = s.gw.ChatJSON(ctx, "You deduplicate and generalise memory statements.",
		[]provider.Message{{Role: provider.RoleUser, Content: synthesisPrompt(u.Text, candidates)}},
		[]byte(synthesisSchema), &resp)
	if err != nil {
		return "", fmt.Errorf("synthesis verdict: %w", err)
	}

	byID := make(map[string]types.Unit, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var merged, subsumed []string
	for _, v := range resp.Verdicts {
		if _, ok := byID[v.ID]; !ok {
			// Hallucinated id; ignore the verdict.
			continue
		}
		switch v.Verdict {
		case verdictCandidateSubsumes:
			// An existing unit already says everything u says. Nothing
			// to write; the caller gets the subsuming unit's id.
			return v.ID, nil
		case verdictMergeAbstraction:
			merged = append(merged, v.ID)
		case verdictUnitSubsumes:
			subsumed = append(subsumed, v.ID)
		}
	}

	if len(merged) == 0 && len(subsumed) == 0 {
		return u.ID, t.Insert(ctx, u)
	}
	return s.writeSynthesized(ctx, t, u, byID, merged, subsumed, resp.MergedText)
}

// MergePair attempts to merge two existing units during consolidation. When
// the gateway rules them the same fact or a subsumable abstraction, both are
// replaced by one synthesized unit and tombstoned as its children. Returns
// whether a merge happened.
func (s *Synthesizer) MergePair(ctx context.Context, t *store.Tenant, a, b types.Unit) (bool, error) {
	var resp synthesisResponse
	err := s.gw.ChatJSON(ctx, "You deduplicate and generalise memory statements.",
		[]provider.Message{{Role: provider.RoleUser, Content: synthesisPrompt(a.Text, []types.Unit{b})}},
		[]byte(synthesisSchema), &resp)
	if err != nil {
		return false, fmt.Errorf("merge verdict: %w", err)
	}

	var verdict string
	for _, v := range resp.Verdicts {
		if v.ID == b.ID {
			verdict = v.Verdict
			break
		}
	}

	text := ""
	switch verdict {
	case verdictMergeAbstraction:
		text = resp.MergedText
		if text == "" {
			text = a.Text
		}
	case verdictUnitSubsumes:
		text = a.Text
	case verdictCandidateSubsumes:
		text = b.Text
	default:
		return false, nil
	}

	embedding := a.Embedding
	if text == b.Text {
		embedding = b.Embedding
	} else if text != a.Text {
		vecs, err := s.gw.Embed(ctx, []string{text})
		if err != nil {
			return false, fmt.Errorf("embed merged text: %w", err)
		}
		embedding = vecs[0]
	}

	syn := &types.Unit{
		ID:        t.NewID(),
		Text:      text,
		Embedding: embedding,
		Tokens:    Tokenize(text),
		Kind:      types.KindSynthesized,
		Children:  []string{a.ID, b.ID},
		Metadata: types.UnitMetadata{
			TimestampUTC:    a.Metadata.TimestampUTC,
			Entities:        unionStrings(append([]string{}, a.Metadata.Entities...), b.Metadata.Entities),
			Persons:         unionStrings(append([]string{}, a.Metadata.Persons...), b.Metadata.Persons),
			SourceSessionID: a.Metadata.SourceSessionID,
			SourceEventIDs:  unionStrings(append([]string{}, a.Metadata.SourceEventIDs...), b.Metadata.SourceEventIDs),
		},
	}
	if ts := b.Metadata.TimestampUTC; !ts.IsZero() && ts.Before(syn.Metadata.TimestampUTC) {
		syn.Metadata.TimestampUTC = ts
	}

	if err := checkAcyclic(ctx, t, syn.ID, syn.Children); err != nil {
		return false, err
	}
	if err := t.Insert(ctx, syn); err != nil {
		return false, err
	}
	for _, id := range syn.Children {
		if err := t.Tombstone(ctx, id); err != nil {
			return false, fmt.Errorf("tombstone child %s: %w", id, err)
		}
	}
	return true, nil
}

// findCandidates vector-searches u's neighbourhood, resolves the hits, and
// applies the same-session filter when u carries a session of origin.
func (s *Synthesizer) findCandidates(ctx context.Context, t *store.Tenant, u *types.Unit) ([]types.Unit, error) {
	scored, err := t.VectorSearch(ctx, u.Embedding, candidateN)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(scored))
	for _, sc := range scored {
		if sc.ID == u.ID {
			continue
		}
		ids = append(ids, sc.ID)
	}
	units, err := t.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := units[:0]
	for _, c := range units {
		if c.Tombstoned {
			continue
		}
		if u.Metadata.SourceSessionID != "" && c.Metadata.SourceSessionID != "" &&
			c.Metadata.SourceSessionID != u.Metadata.SourceSessionID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// writeSynthesized builds the abstraction unit, verifies acyclicity, inserts
// it, and tombstones the children. Children are tombstoned rather than
// deleted so they stay resolvable as supporting evidence.
func (s *Synthesizer) writeSynthesized(ctx context.Context, t *store.Tenant, u *types.Unit, byID map[string]types.Unit, merged, subsumed []string, mergedText string) (string, error) {
	children := append(append([]string{}, merged...), subsumed...)

	text := u.Text
	embedding := u.Embedding
	if len(merged) > 0 && mergedText != "" {
		text = mergedText
		vecs, err := s.gw.Embed(ctx, []string{mergedText})
		if err != nil {
			return "", fmt.Errorf("embed merged text: %w", err)
		}
		embedding = vecs[0]
	}

	syn := &types.Unit{
		ID:        t.NewID(),
		Text:      text,
		Embedding: embedding,
		Tokens:    Tokenize(text),
		Kind:      types.KindSynthesized,
		Children:  children,
		Metadata: types.UnitMetadata{
			TimestampUTC:    u.Metadata.TimestampUTC,
			Entities:        append([]string{}, u.Metadata.Entities...),
			Persons:         append([]string{}, u.Metadata.Persons...),
			SourceSessionID: u.Metadata.SourceSessionID,
			SourceEventIDs:  append([]string{}, u.Metadata.SourceEventIDs...),
		},
	}
	for _, id := range children {
		c := byID[id]
		if ts := c.Metadata.TimestampUTC; !ts.IsZero() && ts.Before(syn.Metadata.TimestampUTC) {
			syn.Metadata.TimestampUTC = ts
		}
		syn.Metadata.Entities = unionStrings(syn.Metadata.Entities, c.Metadata.Entities)
		syn.Metadata.Persons = unionStrings(syn.Metadata.Persons, c.Metadata.Persons)
		syn.Metadata.SourceEventIDs = unionStrings(syn.Metadata.SourceEventIDs, c.Metadata.SourceEventIDs)
	}

	if err := checkAcyclic(ctx, t, syn.ID, children); err != nil {
		return "", err
	}

	// The subsumed fact u must survive as a child, so it is written first
	// and tombstoned along with the merged candidates.
	if err := t.Insert(ctx, u); err != nil {
		return "", err
	}
	syn.Children = append(syn.Children, u.ID)

	if err := t.Insert(ctx, syn); err != nil {
		return "", err
	}
	for _, id := range syn.Children {
		if err := t.Tombstone(ctx, id); err != nil {
			return "", fmt.Errorf("tombstone child %s: %w", id, err)
		}
	}
	return syn.ID, nil
}

// checkAcyclic walks the descendant graph of children and fails if it ever
// reaches newID or revisits a node. The fresh ULID makes a true cycle
// impossible in normal operation; the walk guards against corrupted rows.
func checkAcyclic(ctx context.Context, t *store.Tenant, newID string, children []string) error {
	visited := make(map[string]bool)
	frontier := append([]string{}, children...)

	for depth := 0; len(frontier) > 0; depth++ {
		if depth > maxChildDepth {
			return fmt.Errorf("%w: child graph deeper than %d", types.ErrInvalidArgument, maxChildDepth)
		}
		var next []string
		for _, id := range frontier {
			if id == newID {
				return fmt.Errorf("%w: merge would create a cycle through %s", types.ErrInvalidArgument, id)
			}
			if visited[id] {
				continue
			}
			visited[id] = true

			units, err := t.Get(ctx, []string{id})
			if err != nil {
				return err
			}
			for _, u := range units {
				next = append(next, u.Children...)
			}
		}
		frontier = next
	}
	return nil
}

// unionStrings merges b into a preserving order and uniqueness.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			a = append(a, s)
		}
	}
	return a
}
