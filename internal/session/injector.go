package session

import (
	"context"
	"log"
	"strings"

	"github.com/simplemem/simplemem/internal/engine"
	"github.com/simplemem/simplemem/internal/store"
)

// summaryBudgetShare caps how much of the token budget the summary block may
// take before memory units get a chance.
const summaryBudgetShare = 4

// Injector assembles the session-start context bundle: a compact summary of
// prior sessions followed by the memory units most relevant to the user's
// opening prompt, filled greedily under the token budget.
type Injector struct {
	eng    *engine.Engine
	budget int
}

func NewInjector(eng *engine.Engine, budget int) *Injector {
	if budget <= 0 {
		budget = 2000
	}
	return &Injector{eng: eng, budget: budget}
}

// Inject builds the bundle. Retrieval failure degrades to a summary-only
// bundle; the session still starts. Units are included whole or not at all.
func (i *Injector) Inject(ctx context.Context, t *store.Tenant, summaries []string, userPrompt string) string {
	var b strings.Builder
	used := 0

	if block := i.summaryBlock(summaries); block != "" {
		b.WriteString(block)
		used += engine.EstimateTokens(block)
	}

	if strings.TrimSpace(userPrompt) == "" || used >= i.budget {
		return b.String()
	}

	units, err := i.eng.Retrieve(ctx, t, userPrompt, 0)
	if err != nil {
		log.Printf("inject: retrieval degraded: %v", err)
		return b.String()
	}
	if len(units) == 0 {
		return b.String()
	}

	var mem strings.Builder
	mem.WriteString("## Relevant memories\n")
	used += engine.EstimateTokens(mem.String())
	wrote := false

	for _, u := range units {
		line := "- " + u.Text + "\n"
		cost := engine.EstimateTokens(line)
		if used+cost > i.budget {
			continue
		}
		mem.WriteString(line)
		used += cost
		wrote = true
	}

	if wrote {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(mem.String())
	}
	return b.String()
}

// summaryBlock renders prior-session summaries, truncated to its share of
// the budget on sentence boundaries.
func (i *Injector) summaryBlock(summaries []string) string {
	var kept []string
	for _, s := range summaries {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, strings.TrimSpace(s))
		}
	}
	if len(kept) == 0 {
		return ""
	}

	block := "## Previous sessions\n"
	limit := i.budget / summaryBudgetShare

	used := engine.EstimateTokens(block)
	var lines []string
	for _, s := range kept {
		line := "- " + s + "\n"
		cost := engine.EstimateTokens(line)
		if used+cost > limit {
			break
		}
		lines = append(lines, line)
		used += cost
	}
	if len(lines) == 0 {
		// At least one truncated summary, cut at a sentence end.
		lines = append(lines, "- "+truncateSentence(kept[0], limit*4)+"\n")
	}
	return block + strings.Join(lines, "")
}

// truncateSentence cuts s at the last sentence terminator within n bytes,
// falling back to a word boundary. Never returns a partial sentence when a
// complete one fits.
func truncateSentence(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := truncateUTF8(s, n)
	if idx := strings.LastIndexAny(cut, ".!?"); idx > 0 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx]
	}
	return cut
}
