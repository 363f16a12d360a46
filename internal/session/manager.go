package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simplemem/simplemem/internal/engine"
	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

// Runtime bundles the tenant-scoped handles a request operates on. The
// transport layer builds one per authenticated call; the manager itself
// holds no tenant state.
type Runtime struct {
	Tenant  *store.Tenant
	Engine  *engine.Engine
	Gateway provider.Gateway
}

// StartResult is returned from Start: the allocated session id plus the
// injected context bundle.
type StartResult struct {
	MemorySessionID string `json:"memory_session_id"`
	Context         string `json:"context"`
}

// StopReport summarises what Stop persisted.
type StopReport struct {
	EntriesStored int                 `json:"entries_stored"`
	Observations  []types.Observation `json:"observations"`
	Summary       string              `json:"summary"`
}

// Manager drives the cross-session lifecycle state machine. All transitions
// and reads are pinned to the calling tenant.
type Manager struct {
	meta     *store.MetadataDB
	redactor *Redactor
	budget   int
}

func NewManager(meta *store.MetadataDB, redactor *Redactor, contextBudget int) *Manager {
	return &Manager{meta: meta, redactor: redactor, budget: contextBudget}
}

// Start allocates a session, persists it as active, and builds the context
// bundle from prior summaries plus memory relevant to userPrompt.
func (m *Manager) Start(ctx context.Context, userID string, rt *Runtime, contentSessionID, project, userPrompt string) (*StartResult, error) {
	if contentSessionID == "" {
		return nil, fmt.Errorf("%w: content_session_id is required", types.ErrInvalidArgument)
	}

	s := &types.Session{
		MemorySessionID:  uuid.NewString(),
		ContentSessionID: contentSessionID,
		Project:          project,
		StartedAt:        time.Now().UTC(),
		Status:           types.SessionActive,
	}
	if err := m.meta.CreateSession(ctx, userID, s); err != nil {
		return nil, err
	}

	summaries, err := m.meta.RecentSummaries(ctx, userID, project, 3)
	if err != nil {
		log.Printf("session start: summaries unavailable: %v", err)
	}

	injector := NewInjector(rt.Engine, m.budget)
	bundle := injector.Inject(ctx, rt.Tenant, summaries, userPrompt)

	return &StartResult{MemorySessionID: s.MemorySessionID, Context: bundle}, nil
}

// Record appends one redacted event to an active session. Recording against
// a stopped or ended session fails with the session-state error.
func (m *Manager) Record(ctx context.Context, userID, sessionID string, kind types.EventKind, payload string, ts time.Time) (*types.Event, error) {
	s, err := m.meta.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != types.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionState, sessionID, s.Status)
	}
	switch kind {
	case types.EventMessage, types.EventToolUse, types.EventFileChange:
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", types.ErrInvalidArgument, kind)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := &types.Event{
		EventID:         uuid.NewString(),
		MemorySessionID: sessionID,
		Kind:            kind,
		Payload:         m.redactor.Redact(payload),
		Timestamp:       ts.UTC(),
	}
	if err := m.meta.AppendEvent(ctx, userID, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Stop freezes an active session: events are segmented into observations,
// observations flow into the memory pipeline, and a summary is recorded.
// Stopping an already-stopped session is a no-op returning the recorded
// summary; stopping an ended session is a state error.
func (m *Manager) Stop(ctx context.Context, userID string, rt *Runtime, sessionID string) (*StopReport, error) {
	s, err := m.meta.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case types.SessionEnded:
		return nil, fmt.Errorf("%w: session %s already ended", types.ErrSessionState, sessionID)
	case types.SessionStopped:
		obs, _ := m.meta.ListObservations(ctx, userID, sessionID)
		return &StopReport{Observations: obs, Summary: s.Summary}, nil
	}

	// Freeze the session before reading events; a concurrent Record cannot
	// slip an event past extraction once the status flips.
	if err := m.meta.UpdateSessionStatus(ctx, userID, sessionID, types.SessionStopped, "", nil); err != nil {
		return nil, err
	}

	events, err := m.meta.ListEvents(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	// Observation extraction degrades to summary-only.
	x := &extractor{gw: rt.Gateway}
	observations, err := x.extract(ctx, sessionID, events)
	if err != nil {
		log.Printf("session stop: observation extraction degraded: %v", err)
		observations = nil
	}
	if len(observations) > 0 {
		if err := m.meta.SaveObservations(ctx, userID, observations); err != nil {
			return nil, err
		}
	}

	stored, err := m.storeObservations(ctx, rt, sessionID, observations)
	if err != nil {
		log.Printf("session stop: memory pipeline degraded: %v", err)
	}

	summary := m.summarize(ctx, rt.Gateway, events, observations)
	if err := m.meta.UpdateSessionStatus(ctx, userID, sessionID, types.SessionStopped, summary, nil); err != nil {
		return nil, err
	}

	return &StopReport{EntriesStored: stored, Observations: observations, Summary: summary}, nil
}

// End finalises a stopped session and optionally prunes its events. Ending
// twice, or ending a session that was never stopped, is a state error.
func (m *Manager) End(ctx context.Context, userID, sessionID string, pruneEvents bool) error {
	s, err := m.meta.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if s.Status != types.SessionStopped {
		return fmt.Errorf("%w: cannot end session in state %s", types.ErrSessionState, s.Status)
	}

	now := time.Now().UTC()
	if err := m.meta.UpdateSessionStatus(ctx, userID, sessionID, types.SessionEnded, "", &now); err != nil {
		return err
	}
	if pruneEvents {
		if err := m.meta.PruneEvents(ctx, userID, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// storeObservations feeds extracted observations through the compressor and
// synthesizer as dialogue turns carrying their evidence back-references.
func (m *Manager) storeObservations(ctx context.Context, rt *Runtime, sessionID string, observations []types.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	turns := make([]engine.Turn, 0, len(observations))
	var evidence []string
	seen := make(map[string]bool)
	for _, o := range observations {
		turns = append(turns, engine.Turn{
			Speaker:   string(o.Category),
			Content:   o.Text,
			Timestamp: time.Now().UTC(),
		})
		for _, id := range o.EvidenceEventIDs {
			if !seen[id] {
				seen[id] = true
				evidence = append(evidence, id)
			}
		}
	}

	ids, err := rt.Engine.AddDialogue(ctx, rt.Tenant, turns, time.Now().UTC(), sessionID, evidence)
	return len(ids), err
}

// summarize produces the session summary, preferring the gateway and
// degrading to a counting fallback.
func (m *Manager) summarize(ctx context.Context, gw provider.Gateway, events []types.Event, observations []types.Observation) string {
	fallback := fmt.Sprintf("Session with %d events and %d observations.", len(events), len(observations))
	if len(events) == 0 {
		return fallback
	}

	var buf strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&buf, "%s: %s\n", ev.Kind, ev.Payload)
	}
	prompt := fmt.Sprintf(`Summarise this work session in at most three sentences. State what was worked on and what the outcome was. Plain text only.

%s`, buf.String())

	summary, err := gw.Chat(ctx, "You summarise work sessions concisely.",
		[]provider.Message{{Role: provider.RoleUser, Content: prompt}})
	if err != nil || strings.TrimSpace(summary) == "" {
		return fallback
	}
	return strings.TrimSpace(summary)
}
