package session

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

// Report counts what one consolidation pass changed.
type Report struct {
	Decayed   int `json:"decayed"`
	Merged    int `json:"merged"`
	Pruned    int `json:"pruned"`
	Collected int `json:"collected"`
}

// Consolidator is the background maintenance pass over a tenant's units:
// exponential score decay, similarity-driven merging, pruning of faded
// units, and garbage collection of aged tombstones.
//
// It reads from a snapshot and applies every change through the tenant's
// serialized write path, so it is safe to run alongside live writes.
type Consolidator struct {
	lambda         float64
	mergeThreshold float64
	pruneThreshold float64
	grace          time.Duration
}

func NewConsolidator(cfg *config.Config) *Consolidator {
	return &Consolidator{
		lambda:         cfg.DecayLambda(),
		mergeThreshold: cfg.Consolidation.MergeThreshold,
		pruneThreshold: cfg.Consolidation.PruneThreshold,
		grace:          cfg.Consolidation.TombstoneGrace,
	}
}

// Run executes one full pass for the runtime's tenant.
func (c *Consolidator) Run(ctx context.Context, rt *Runtime) (*Report, error) {
	snapshot, err := rt.Tenant.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	now := time.Now().UTC()

	// Children of synthesized units are protected from pruning and GC.
	referenced := make(map[string]bool)
	for _, u := range snapshot {
		for _, cid := range u.Children {
			referenced[cid] = true
		}
	}

	c.decay(ctx, rt.Tenant, snapshot, now, report)
	c.merge(ctx, rt, snapshot, report)
	c.prune(ctx, rt.Tenant, snapshot, referenced, report)
	c.collect(ctx, rt.Tenant, snapshot, referenced, now, report)

	return report, nil
}

// decay applies score *= exp(-lambda * dt) with dt measured since last
// access (creation when never accessed).
func (c *Consolidator) decay(ctx context.Context, t *store.Tenant, snapshot []types.Unit, now time.Time, report *Report) {
	for _, u := range snapshot {
		if u.Tombstoned {
			continue
		}
		anchor := u.LastAccessedAt
		if anchor.IsZero() {
			anchor = u.CreatedAt
		}
		dt := float64(now.Sub(anchor))
		if dt <= 0 {
			continue
		}

		// The anchor advances to now so the next pass only decays the
		// interval it observes; decay composes across passes.
		score := u.ScoreDecay * math.Exp(-c.lambda*dt)
		if err := t.Update(ctx, u.ID, types.UnitPatch{
			ScoreDecay:     &score,
			LastAccessedAt: &now,
		}); err != nil {
			log.Printf("consolidate: decay %s: %v", u.ID, err)
			continue
		}
		report.Decayed++
	}
}

// merge looks for near-duplicate pairs and hands them to the synthesizer.
// Units consumed by a merge are excluded from the rest of the pass via the
// snapshot's tombstone flags staying stale; the next pass sees the truth.
func (c *Consolidator) merge(ctx context.Context, rt *Runtime, snapshot []types.Unit, report *Report) {
	merged := make(map[string]bool)

	for _, u := range snapshot {
		if u.Tombstoned || merged[u.ID] || len(u.Embedding) == 0 {
			continue
		}

		hits, err := rt.Tenant.VectorSearch(ctx, u.Embedding, 2)
		if err != nil {
			log.Printf("consolidate: merge search %s: %v", u.ID, err)
			continue
		}
		for _, hit := range hits {
			if hit.ID == u.ID || merged[hit.ID] || hit.Score < c.mergeThreshold {
				continue
			}
			others, err := rt.Tenant.Get(ctx, []string{hit.ID})
			if err != nil || len(others) == 0 || others[0].Tombstoned {
				continue
			}

			ok, err := rt.Engine.Synthesizer().MergePair(ctx, rt.Tenant, u, others[0])
			if err != nil {
				log.Printf("consolidate: merge %s + %s: %v", u.ID, hit.ID, err)
				continue
			}
			if ok {
				merged[u.ID] = true
				merged[hit.ID] = true
				report.Merged++
			}
			break
		}
	}
}

// prune tombstones faded units nothing references. Scores are judged from
// the pass's opening snapshot: a unit this pass's decay pushed below the
// threshold is picked up on the next pass, same as merge.
func (c *Consolidator) prune(ctx context.Context, t *store.Tenant, snapshot []types.Unit, referenced map[string]bool, report *Report) {
	for _, u := range snapshot {
		if u.Tombstoned || referenced[u.ID] || u.ScoreDecay >= c.pruneThreshold {
			continue
		}
		if err := t.Tombstone(ctx, u.ID); err != nil {
			log.Printf("consolidate: prune %s: %v", u.ID, err)
			continue
		}
		report.Pruned++
	}
}

// collect purges unreferenced tombstones older than the grace interval.
// Referenced tombstones stay resolvable so synthesized children remain
// inspectable.
func (c *Consolidator) collect(ctx context.Context, t *store.Tenant, snapshot []types.Unit, referenced map[string]bool, now time.Time, report *Report) {
	for _, u := range snapshot {
		if !u.Tombstoned || referenced[u.ID] {
			continue
		}
		if now.Sub(u.UpdatedAt) < c.grace {
			continue
		}
		if err := t.Purge(ctx, u.ID); err != nil {
			log.Printf("consolidate: collect %s: %v", u.ID, err)
			continue
		}
		report.Collected++
	}
}
