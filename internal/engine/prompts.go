package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/simplemem/simplemem/pkg/types"
)

// All engine prompts follow the same discipline: strict JSON-only output,
// exact structure spelled out, no markdown. Responses are still run through
// brace extraction and schema validation because models drift.

// densityPrompt asks for an informativeness score for a dialogue window.
// Windows scoring below the gate threshold are dropped before atomicization.
func densityPrompt(window string) string {
	return fmt.Sprintf(`TASK: Rate how much durable, factual information this conversation excerpt contains.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

Score 0-10:
- 0-2: greetings, small talk, filler
- 3-5: some concrete facts, plans, or preferences
- 6-10: dense factual content worth remembering long-term

REQUIRED JSON STRUCTURE:
{"score": 7}

CONVERSATION:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, window)
}

const densitySchema = `{
	"type": "object",
	"required": ["score"],
	"properties": {"score": {"type": "number", "minimum": 0, "maximum": 10}}
}`

type densityResponse struct {
	Score float64 `json:"score"`
}

// atomicizePrompt asks for self-contained statements with resolved
// coreferences and absolute timestamps. The anchor pins relative phrases.
func atomicizePrompt(window string, anchor time.Time) string {
	return fmt.Sprintf(`TASK: Extract atomic memory statements from a conversation.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

RULES (STRICT):
1. Each statement must stand alone: resolve every pronoun to a named person or entity.
2. Convert ALL relative times ("yesterday", "tomorrow at 2pm", "next week") to absolute UTC using the anchor time below. Never leave relative phrasing in a statement.
3. One fact per statement. Split compound facts.
4. timestamp_utc is the time the fact refers to, RFC 3339 UTC (e.g. "2025-11-16T14:00:00Z"). Use the anchor time when the fact has no other time.
5. persons lists people named in the statement; entities lists other named things (places, projects, products).
6. Skip content-free turns entirely.

ANCHOR TIME (UTC): %s

REQUIRED JSON STRUCTURE:
{"statements":[{"text":"Alice will meet Bob at Starbucks on 2025-11-16 at 14:00 UTC.","timestamp_utc":"2025-11-16T14:00:00Z","persons":["Alice","Bob"],"entities":["Starbucks"]}]}

CONVERSATION:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, anchor.UTC().Format(time.RFC3339), window)
}

const atomicizeSchema = `{
	"type": "object",
	"required": ["statements"],
	"properties": {
		"statements": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "timestamp_utc"],
				"properties": {
					"text": {"type": "string"},
					"timestamp_utc": {"type": "string"},
					"persons": {"type": "array", "items": {"type": "string"}},
					"entities": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

type atomicStatement struct {
	Text         string   `json:"text"`
	TimestampUTC string   `json:"timestamp_utc"`
	Persons      []string `json:"persons"`
	Entities     []string `json:"entities"`
}

type atomicizeResponse struct {
	Statements []atomicStatement `json:"statements"`
}

// Synthesis verdicts, one per candidate.
const (
	verdictKeepSeparate      = "keep_separate"
	verdictMergeAbstraction  = "merge_into_new_abstraction"
	verdictUnitSubsumes      = "u_subsumes_candidate"
	verdictCandidateSubsumes = "candidate_subsumes_u"
)

// synthesisPrompt asks whether a new unit duplicates or generalises any of
// its nearest neighbours.
func synthesisPrompt(unitText string, candidates []types.Unit) string {
	var list strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&list, "- id=%s: %s\n", c.ID, c.Text)
	}

	return fmt.Sprintf(`TASK: Decide whether a NEW memory statement duplicates or generalises EXISTING ones.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

Verdicts (one per existing candidate):
- "keep_separate": different facts, keep both
- "merge_into_new_abstraction": same topic; both should be replaced by one richer statement
- "u_subsumes_candidate": the NEW statement already contains everything the candidate says
- "candidate_subsumes_u": the candidate already contains everything the NEW statement says

When any verdict is "merge_into_new_abstraction", also provide "merged_text": ONE
self-contained statement covering the new statement and every merged candidate,
with absolute times and named people preserved.

REQUIRED JSON STRUCTURE:
{"verdicts":[{"id":"01ABC","verdict":"keep_separate"}],"merged_text":""}

NEW STATEMENT:
%s

EXISTING CANDIDATES:
%s
RESPOND WITH ONLY THE JSON OBJECT:`, unitText, list.String())
}

const synthesisSchema = `{
	"type": "object",
	"required": ["verdicts"],
	"properties": {
		"verdicts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "verdict"],
				"properties": {
					"id": {"type": "string"},
					"verdict": {"type": "string", "enum": ["keep_separate", "merge_into_new_abstraction", "u_subsumes_candidate", "candidate_subsumes_u"]}
				}
			}
		},
		"merged_text": {"type": "string"}
	}
}`

type synthesisVerdict struct {
	ID      string `json:"id"`
	Verdict string `json:"verdict"`
}

type synthesisResponse struct {
	Verdicts   []synthesisVerdict `json:"verdicts"`
	MergedText string             `json:"merged_text"`
}

// plannerPrompt turns a query (plus optional history) into a retrieval plan.
func plannerPrompt(query string, history []string) string {
	hist := "none"
	if len(history) > 0 {
		hist = strings.Join(history, "\n")
	}

	return fmt.Sprintf(`TASK: Build a retrieval plan for a memory query.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

Fields:
- "q_sem": a paraphrase of the query optimised for semantic embedding match
- "q_lex": lexical keywords (lowercase, no stopwords); empty array when none are useful
- "q_sym": metadata filter; omit fields you cannot infer. Times are RFC 3339 UTC.
- "intent": one of "lookup" (a specific fact), "aggregation" (summarise many facts), "temporal" (time-bounded), "unknown"

REQUIRED JSON STRUCTURE:
{"q_sem":"...","q_lex":["..."],"q_sym":{"after":"","before":"","persons":[],"entities":[]},"intent":"lookup"}

CONVERSATION HISTORY:
%s

QUERY:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, hist, query)
}

const plannerSchema = `{
	"type": "object",
	"required": ["q_sem", "intent"],
	"properties": {
		"q_sem": {"type": "string"},
		"q_lex": {"type": "array", "items": {"type": "string"}},
		"q_sym": {"type": "object"},
		"intent": {"type": "string", "enum": ["lookup", "aggregation", "temporal", "unknown"]}
	}
}`

type plannerResponse struct {
	QSem string   `json:"q_sem"`
	QLex []string `json:"q_lex"`
	QSym *struct {
		After    string   `json:"after"`
		Before   string   `json:"before"`
		Persons  []string `json:"persons"`
		Entities []string `json:"entities"`
	} `json:"q_sym"`
	Intent string `json:"intent"`
}

// answerPrompt composes a grounded answer constrained to the retrieved units.
func answerPrompt(query string, units []types.Unit) string {
	var list strings.Builder
	for _, u := range units {
		fmt.Fprintf(&list, "- id=%s [%s]: %s\n",
			u.ID, u.Metadata.TimestampUTC.UTC().Format(time.RFC3339), u.Text)
	}

	return fmt.Sprintf(`TASK: Answer a question using ONLY the memory units below.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

RULES (STRICT):
1. Use only facts stated in the units. Never invent or infer beyond them.
2. "cited_unit_ids" lists the ids of every unit the answer relies on.
3. If the units do not answer the question, say so plainly and cite nothing.

REQUIRED JSON STRUCTURE:
{"answer":"...","cited_unit_ids":["01ABC"]}

MEMORY UNITS:
%s
QUESTION:
%s

RESPOND WITH ONLY THE JSON OBJECT:`, list.String(), query)
}

const answerSchema = `{
	"type": "object",
	"required": ["answer"],
	"properties": {
		"answer": {"type": "string"},
		"cited_unit_ids": {"type": "array", "items": {"type": "string"}}
	}
}`

type answerResponse struct {
	Answer       string   `json:"answer"`
	CitedUnitIDs []string `json:"cited_unit_ids"`
}
