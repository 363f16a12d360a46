package engine

import (
	"strings"
	"unicode"
)

// stopwords excluded from the lexical token set. Kept small on purpose:
// over-aggressive filtering hurts BM25 recall more than a few noise tokens
// hurt precision.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "her": {},
	"his": {}, "i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "she": {}, "that": {}, "the": {}, "their": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"will": {}, "with": {}, "you": {},
}

// Tokenize normalises text into the lexical token multiset used by the BM25
// view: lowercased, punctuation-split, stopword-filtered. Duplicates are
// preserved so term frequency survives into the index.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// EstimateTokens approximates the LLM token count of text. The usual
// four-characters-per-token heuristic is close enough for budget checks.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
