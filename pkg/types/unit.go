// Package types defines the shared data model for SimpleMem: memory units,
// sessions, events, observations, retrieval plans, and the typed error set
// used across the engine, store, and transport layers.
package types

import "time"

// UnitKind distinguishes compressor output from synthesizer output.
type UnitKind string

const (
	// KindAtomic marks a unit emitted directly by the compressor.
	KindAtomic UnitKind = "atomic"

	// KindSynthesized marks a unit produced by merging one or more
	// atomic or synthesized units. Its Children field lists the subsumed ids.
	KindSynthesized UnitKind = "synthesized"
)

// UnitMetadata carries the symbolic attributes of a memory unit.
// TimestampUTC is always absolute UTC; relative phrasing is resolved at
// compression time against the anchor clock.
type UnitMetadata struct {
	// TimestampUTC is the absolute time the remembered fact refers to.
	TimestampUTC time.Time `json:"timestamp_utc"`

	// Entities are named non-person entities mentioned by the unit.
	Entities []string `json:"entities,omitempty"`

	// Persons are the people mentioned by the unit.
	Persons []string `json:"persons,omitempty"`

	// SourceSessionID is the memory session the unit was extracted from,
	// when the unit came through the cross-session pipeline.
	SourceSessionID string `json:"source_session_id,omitempty"`

	// SourceEventIDs back-reference the events that supplied the evidence.
	SourceEventIDs []string `json:"source_event_ids,omitempty"`
}

// Unit is the atomic fact stored in a tenant's triple index.
//
// Invariants:
//   - Text is self-contained: no unresolved pronouns, no relative times.
//   - len(Embedding) matches the tenant's declared dimension.
//   - IDs are ULIDs, monotonic within a tenant and never reused.
//   - A synthesized unit's Children are all present or tombstoned in the
//     same tenant, and never point transitively back to an ancestor.
type Unit struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Embedding []float32    `json:"embedding,omitempty"`
	Tokens    []string     `json:"tokens,omitempty"`
	Metadata  UnitMetadata `json:"metadata"`
	Kind      UnitKind     `json:"kind"`
	Children  []string     `json:"children,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Tombstoned bool      `json:"tombstoned,omitempty"`

	// ScoreDecay rises on recall and decays exponentially with age.
	// Consolidation prunes units whose score falls below the prune
	// threshold while nothing references them as a child.
	ScoreDecay float64 `json:"score_decay"`

	// LastAccessedAt anchors the decay computation. Zero means never
	// accessed since creation; CreatedAt is used instead.
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
}

// UnitPatch is a partial update applied through Store.Update. Nil fields
// are left untouched.
type UnitPatch struct {
	ScoreDecay     *float64
	LastAccessedAt *time.Time
	Children       []string
	Tombstoned     *bool
}

// ScoredUnit pairs a unit id with a view-local relevance score.
type ScoredUnit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
