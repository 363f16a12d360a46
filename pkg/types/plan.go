package types

import "time"

// QueryIntent is the planner's inferred category for a query. It drives the
// retrieval depth.
type QueryIntent string

const (
	IntentLookup      QueryIntent = "lookup"
	IntentAggregation QueryIntent = "aggregation"
	IntentTemporal    QueryIntent = "temporal"
	IntentUnknown     QueryIntent = "unknown"
)

// SymbolicFilter is a metadata predicate over the symbolic index: an optional
// time window plus contains-style matches on persons and entities. A nil
// filter matches nothing (the symbolic view is skipped).
type SymbolicFilter struct {
	After    *time.Time `json:"after,omitempty"`
	Before   *time.Time `json:"before,omitempty"`
	Persons  []string   `json:"persons,omitempty"`
	Entities []string   `json:"entities,omitempty"`
}

// Empty reports whether the filter carries no constraints at all.
func (f *SymbolicFilter) Empty() bool {
	return f == nil ||
		(f.After == nil && f.Before == nil && len(f.Persons) == 0 && len(f.Entities) == 0)
}

// Plan is the retrieval plan emitted by the planner: one query per view plus
// the target depth. It is pure data; the retriever executes it.
type Plan struct {
	// QSem is a paraphrase of the query optimised for embedding match.
	QSem string `json:"q_sem"`

	// QLex are lexical keywords for the BM25 view. May be empty.
	QLex []string `json:"q_lex,omitempty"`

	// QSym is the metadata filter for the symbolic view. May be nil.
	QSym *SymbolicFilter `json:"q_sym,omitempty"`

	// Depth is the target total number of units across views.
	Depth int `json:"depth"`

	Intent QueryIntent `json:"intent"`
}

// Answer is the answerer's grounded response: text constrained to cite only
// the retrieved units it was shown.
type Answer struct {
	AnswerText   string   `json:"answer_text"`
	CitedUnitIDs []string `json:"cited_unit_ids,omitempty"`
}
