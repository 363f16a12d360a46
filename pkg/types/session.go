package types

import "time"

// SessionStatus is the cross-session lifecycle state.
//
//	(none) --start--> active --record*--> active
//	                    |                    |
//	                    +--stop--> stopped --end--> ended
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStopped SessionStatus = "stopped"
	SessionEnded   SessionStatus = "ended"
)

// Session is one cross-session memory lifecycle.
type Session struct {
	// MemorySessionID is the server-assigned identifier.
	MemorySessionID string `json:"memory_session_id"`

	// ContentSessionID is the client-provided tag for the session.
	ContentSessionID string `json:"content_session_id"`

	Project   string        `json:"project,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
	Summary   string        `json:"summary,omitempty"`
}

// EventKind classifies a recorded session event.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventToolUse    EventKind = "tool_use"
	EventFileChange EventKind = "file_change"
)

// Event is an append-only record inside a session. Payload is stored after
// mandatory redaction; Seq is the server-assigned total order within the
// session and takes precedence over the client timestamp.
type Event struct {
	EventID         string    `json:"event_id"`
	MemorySessionID string    `json:"memory_session_id"`
	Kind            EventKind `json:"kind"`
	Payload         string    `json:"payload"`
	Timestamp       time.Time `json:"timestamp"`
	Seq             int64     `json:"seq"`
}

// ObservationCategory classifies an extracted observation.
type ObservationCategory string

const (
	ObservationDecision  ObservationCategory = "decision"
	ObservationDiscovery ObservationCategory = "discovery"
	ObservationLearning  ObservationCategory = "learning"
	ObservationOther     ObservationCategory = "other"
)

// Observation is derived from a session's events at stop time and feeds the
// memory-unit pipeline.
type Observation struct {
	ObservationID    string              `json:"observation_id"`
	MemorySessionID  string              `json:"memory_session_id"`
	Category         ObservationCategory `json:"category"`
	Text             string              `json:"text"`
	EvidenceEventIDs []string            `json:"evidence_event_ids,omitempty"`
}
