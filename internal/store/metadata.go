package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/pkg/types"
)

// MetadataDB is the process-wide SQLite database holding tenants and the
// cross-session tables. It implements auth.UserStore.
type MetadataDB struct {
	db *sql.DB
}

var _ auth.UserStore = (*MetadataDB)(nil)

// OpenMetadataDB opens the metadata database, configures WAL mode, and
// creates the schema.
func OpenMetadataDB(path string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create metadata schema: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// Close releases the underlying connection.
func (m *MetadataDB) Close() error { return m.db.Close() }

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

// CreateUser inserts a new tenant row.
func (m *MetadataDB) CreateUser(ctx context.Context, rec auth.UserRecord) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO users (user_id, encrypted_key, created_at) VALUES (?, ?, ?)`,
		rec.UserID, rec.EncryptedKey, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &types.StoreError{Op: "CreateUser", Err: err}
	}
	return nil
}

// GetUser returns the tenant row or ErrNotFound.
func (m *MetadataDB) GetUser(ctx context.Context, userID string) (*auth.UserRecord, error) {
	var rec auth.UserRecord
	var createdAt string
	err := m.db.QueryRowContext(ctx,
		`SELECT user_id, encrypted_key, created_at FROM users WHERE user_id = ?`, userID).
		Scan(&rec.UserID, &rec.EncryptedKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreError{Op: "GetUser", Err: err}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

// CreateSession persists a new session row for the tenant.
func (m *MetadataDB) CreateSession(ctx context.Context, userID string, s *types.Session) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO sessions (memory_session_id, user_id, content_session_id, project, started_at, status, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.MemorySessionID, userID, s.ContentSessionID, s.Project,
		s.StartedAt.UTC().Format(time.RFC3339Nano), string(s.Status), s.Summary)
	if err != nil {
		return &types.StoreError{Op: "CreateSession", Err: err}
	}
	return nil
}

// GetSession returns the session when it belongs to userID. A session owned
// by a different tenant is reported as ErrNotFound so its existence does not
// leak.
func (m *MetadataDB) GetSession(ctx context.Context, userID, sessionID string) (*types.Session, error) {
	var s types.Session
	var startedAt string
	var endedAt sql.NullString
	var status string
	err := m.db.QueryRowContext(ctx, `
		SELECT memory_session_id, content_session_id, project, started_at, ended_at, status, summary
		FROM sessions WHERE memory_session_id = ? AND user_id = ?`, sessionID, userID).
		Scan(&s.MemorySessionID, &s.ContentSessionID, &s.Project, &startedAt, &endedAt, &status, &s.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreError{Op: "GetSession", Err: err}
	}
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		s.EndedAt = &t
	}
	s.Status = types.SessionStatus(status)
	return &s, nil
}

// UpdateSessionStatus transitions a session and records summary/ended_at.
func (m *MetadataDB) UpdateSessionStatus(ctx context.Context, userID, sessionID string, status types.SessionStatus, summary string, endedAt *time.Time) error {
	var ended any
	if endedAt != nil {
		ended = endedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := m.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, summary = CASE WHEN ? != '' THEN ? ELSE summary END, ended_at = COALESCE(?, ended_at)
		WHERE memory_session_id = ? AND user_id = ?`,
		string(status), summary, summary, ended, sessionID, userID)
	if err != nil {
		return &types.StoreError{Op: "UpdateSessionStatus", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// RecentSummaries returns the newest non-empty session summaries for the
// tenant, optionally narrowed to one project. The injector seeds the context
// bundle's summary block from these.
func (m *MetadataDB) RecentSummaries(ctx context.Context, userID, project string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT summary FROM sessions
		WHERE user_id = ? AND summary != '' AND (? = '' OR project = ?)
		ORDER BY started_at DESC LIMIT ?`,
		userID, project, project, limit)
	if err != nil {
		return nil, &types.StoreError{Op: "RecentSummaries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, &types.StoreError{Op: "RecentSummaries", Err: err}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// events
// ---------------------------------------------------------------------------

// AppendEvent records an event with the next sequence number for its
// session. Events are totally ordered by recording order, not by the
// client-supplied timestamp.
func (m *MetadataDB) AppendEvent(ctx context.Context, userID string, ev *types.Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StoreError{Op: "AppendEvent", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE memory_session_id = ?`,
		ev.MemorySessionID).Scan(&seq); err != nil {
		return &types.StoreError{Op: "AppendEvent", Err: err}
	}
	ev.Seq = seq

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, memory_session_id, user_id, kind, payload, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.MemorySessionID, userID, string(ev.Kind), ev.Payload,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), seq); err != nil {
		return &types.StoreError{Op: "AppendEvent", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &types.StoreError{Op: "AppendEvent", Err: err}
	}
	return nil
}

// ListEvents returns a session's events in recording order.
func (m *MetadataDB) ListEvents(ctx context.Context, userID, sessionID string) ([]types.Event, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT event_id, memory_session_id, kind, payload, timestamp, seq
		FROM events WHERE memory_session_id = ? AND user_id = ? ORDER BY seq`,
		sessionID, userID)
	if err != nil {
		return nil, &types.StoreError{Op: "ListEvents", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var kind, ts string
		if err := rows.Scan(&ev.EventID, &ev.MemorySessionID, &kind, &ev.Payload, &ts, &ev.Seq); err != nil {
			return nil, &types.StoreError{Op: "ListEvents", Err: err}
		}
		ev.Kind = types.EventKind(kind)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneEvents removes a session's events. Called at end when the retention
// policy says so.
func (m *MetadataDB) PruneEvents(ctx context.Context, userID, sessionID string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM events WHERE memory_session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return &types.StoreError{Op: "PruneEvents", Err: err}
	}
	return nil
}

// ---------------------------------------------------------------------------
// observations
// ---------------------------------------------------------------------------

// SaveObservations persists the observations extracted at session stop.
func (m *MetadataDB) SaveObservations(ctx context.Context, userID string, obs []types.Observation) error {
	for _, o := range obs {
		evidence, err := json.Marshal(o.EvidenceEventIDs)
		if err != nil {
			return fmt.Errorf("marshal evidence: %w", err)
		}
		if _, err := m.db.ExecContext(ctx, `
			INSERT INTO observations (observation_id, memory_session_id, user_id, category, text, evidence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			o.ObservationID, o.MemorySessionID, userID, string(o.Category), o.Text, string(evidence)); err != nil {
			return &types.StoreError{Op: "SaveObservations", Err: err}
		}
	}
	return nil
}

// ListObservations returns a session's observations.
func (m *MetadataDB) ListObservations(ctx context.Context, userID, sessionID string) ([]types.Observation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT observation_id, memory_session_id, category, text, evidence
		FROM observations WHERE memory_session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return nil, &types.StoreError{Op: "ListObservations", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []types.Observation
	for rows.Next() {
		var o types.Observation
		var category, evidence string
		if err := rows.Scan(&o.ObservationID, &o.MemorySessionID, &category, &o.Text, &evidence); err != nil {
			return nil, &types.StoreError{Op: "ListObservations", Err: err}
		}
		o.Category = types.ObservationCategory(category)
		_ = json.Unmarshal([]byte(evidence), &o.EvidenceEventIDs)
		out = append(out, o)
	}
	return out, rows.Err()
}
