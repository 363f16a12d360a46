// Package store implements the per-tenant triple index (dense vector,
// sparse lexical, symbolic metadata) plus the process-wide metadata
// database. The tenant store exclusively owns all persistent state; other
// components hold borrowed views for the duration of one request.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/simplemem/simplemem/pkg/types"
)

// Tenant is a scoped handle over one tenant's indexes. All resources are
// opened together and Close releases them together; a partially-open tenant
// is never returned to callers.
//
// Writes are serialised by a single-writer mutex. Reads go straight to the
// underlying indexes and see a consistent snapshot at call start (SQLite WAL
// snapshot semantics; the vector index is only mutated under the writer
// lock after the intent log entry is durable).
type Tenant struct {
	UserID string
	Dim    int

	db     *sql.DB
	vector VectorIndex
	log    *intentLog

	writeMu sync.Mutex
	entropy *ulid.MonotonicEntropy
	idMu    sync.Mutex
}

// vectorOpener abstracts the vector backend choice (chromem or pgvector).
type vectorOpener func(dir, userID string, dim int) (VectorIndex, error)

// openTenant opens all of a tenant's resources and runs crash recovery.
func openTenant(dir, userID string, dim int, openVector vectorOpener) (*Tenant, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "units.db"))
	if err != nil {
		return nil, fmt.Errorf("open units db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(unitSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create unit schema: %w", err)
	}

	vector, err := openVector(dir, userID, dim)
	if err != nil {
		db.Close()
		return nil, err
	}

	t := &Tenant{
		UserID:  userID,
		Dim:     dim,
		db:      db,
		vector:  vector,
		log:     newIntentLog(filepath.Join(dir, "intent.log")),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}

	if err := t.recover(context.Background()); err != nil {
		t.Close()
		return nil, fmt.Errorf("tenant recovery: %w", err)
	}
	return t, nil
}

// Close releases the tenant's resources.
func (t *Tenant) Close() error {
	verr := t.vector.Close()
	derr := t.db.Close()
	if verr != nil {
		return verr
	}
	return derr
}

// NewID allocates the next unit id. ULIDs are lexicographically ordered by
// creation time, so ids are monotonic within the tenant and never reused.
func (t *Tenant) NewID() string {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String()
}

// recover replays any pending intent-log entries so all three indexes agree,
// then consumes the log to completion.
func (t *Tenant) recover(ctx context.Context) error {
	entries, err := t.log.pending()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := t.apply(ctx, e); err != nil {
			return fmt.Errorf("replay %s: %w", e.Op, err)
		}
	}
	return t.log.clear()
}

// Insert writes a unit into all three indexes, atomically from the caller's
// perspective: the intent entry is durable before any index is touched, and
// recovery completes interrupted writes.
func (t *Tenant) Insert(ctx context.Context, u *types.Unit) error {
	if u.ID == "" {
		return fmt.Errorf("%w: unit id is required", types.ErrInvalidArgument)
	}
	if len(u.Embedding) != t.Dim {
		return fmt.Errorf("%w: embedding dimension %d, tenant requires %d",
			types.ErrInvalidArgument, len(u.Embedding), t.Dim)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.ScoreDecay == 0 {
		u.ScoreDecay = 1.0
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.logged(ctx, intentEntry{Op: opInsert, Unit: u})
}

// Update applies a partial patch to an existing unit.
func (t *Tenant) Update(ctx context.Context, id string, patch types.UnitPatch) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	u, err := t.getOne(ctx, id)
	if err != nil {
		return err
	}
	if patch.ScoreDecay != nil {
		u.ScoreDecay = *patch.ScoreDecay
	}
	if patch.LastAccessedAt != nil {
		u.LastAccessedAt = *patch.LastAccessedAt
	}
	if patch.Children != nil {
		u.Children = patch.Children
	}
	if patch.Tombstoned != nil {
		u.Tombstoned = *patch.Tombstoned
	}
	u.UpdatedAt = time.Now().UTC()

	return t.logged(ctx, intentEntry{Op: opUpdate, Unit: u})
}

// Tombstone marks a unit dead in all three indexes without destroying the
// row. Tombstoned units stay resolvable by id (synthesized children remain
// inspectable) but never appear in search results.
func (t *Tenant) Tombstone(ctx context.Context, id string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.getOne(ctx, id); err != nil {
		return err
	}
	return t.logged(ctx, intentEntry{Op: opTombstone, ID: id})
}

// Purge hard-deletes a tombstoned unit. Only the consolidator's garbage
// collection calls this.
func (t *Tenant) Purge(ctx context.Context, id string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.logged(ctx, intentEntry{Op: opPurge, ID: id})
}

// logged appends the intent entry, applies it to all indexes, and clears the
// log. An apply failure leaves the entry pending so the next open replays it.
func (t *Tenant) logged(ctx context.Context, e intentEntry) error {
	if err := t.log.append(e); err != nil {
		return &types.StoreError{Op: string(e.Op), Err: err}
	}
	if err := t.apply(ctx, e); err != nil {
		return &types.StoreError{Op: string(e.Op), Err: err}
	}
	if err := t.log.clear(); err != nil {
		return &types.StoreError{Op: string(e.Op), Err: err}
	}
	return nil
}

// apply executes one intent entry against the unit table, the lexical index,
// and the vector index. Every branch is idempotent so replay is safe.
func (t *Tenant) apply(ctx context.Context, e intentEntry) error {
	switch e.Op {
	case opInsert, opUpdate:
		u := e.Unit
		if err := t.upsertRow(ctx, u); err != nil {
			return err
		}
		if u.Tombstoned {
			return t.vector.Delete(ctx, u.ID)
		}
		return t.vector.Add(ctx, u.ID, u.Embedding, u.Text)

	case opTombstone:
		if _, err := t.db.ExecContext(ctx,
			`UPDATE units SET tombstoned = 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano), e.ID); err != nil {
			return err
		}
		if _, err := t.db.ExecContext(ctx,
			`DELETE FROM units_fts WHERE unit_id = ?`, e.ID); err != nil {
			return err
		}
		return t.vector.Delete(ctx, e.ID)

	case opPurge:
		if _, err := t.db.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, e.ID); err != nil {
			return err
		}
		if _, err := t.db.ExecContext(ctx, `DELETE FROM units_fts WHERE unit_id = ?`, e.ID); err != nil {
			return err
		}
		return t.vector.Delete(ctx, e.ID)

	default:
		return fmt.Errorf("unknown intent op %q", e.Op)
	}
}

// upsertRow writes the full unit row and refreshes its lexical index entry.
func (t *Tenant) upsertRow(ctx context.Context, u *types.Unit) error {
	children, _ := json.Marshal(sliceOrEmpty(u.Children))
	tokens, _ := json.Marshal(sliceOrEmpty(u.Tokens))
	entities, _ := json.Marshal(sliceOrEmpty(u.Metadata.Entities))
	persons, _ := json.Marshal(sliceOrEmpty(u.Metadata.Persons))
	eventIDs, _ := json.Marshal(sliceOrEmpty(u.Metadata.SourceEventIDs))

	var lastAccessed any
	if !u.LastAccessedAt.IsZero() {
		lastAccessed = u.LastAccessedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO units (
			id, text, kind, children, tokens, embedding,
			ts_utc, entities, persons, source_session_id, source_event_ids,
			created_at, updated_at, last_accessed_at, score_decay, tombstoned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			kind = excluded.kind,
			children = excluded.children,
			tokens = excluded.tokens,
			embedding = excluded.embedding,
			ts_utc = excluded.ts_utc,
			entities = excluded.entities,
			persons = excluded.persons,
			source_session_id = excluded.source_session_id,
			source_event_ids = excluded.source_event_ids,
			updated_at = excluded.updated_at,
			last_accessed_at = excluded.last_accessed_at,
			score_decay = excluded.score_decay,
			tombstoned = excluded.tombstoned`,
		u.ID, u.Text, string(u.Kind), string(children), string(tokens),
		serializeEmbedding(u.Embedding),
		u.Metadata.TimestampUTC.UTC().Format(time.RFC3339Nano),
		string(entities), string(persons),
		u.Metadata.SourceSessionID, string(eventIDs),
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
		u.UpdatedAt.UTC().Format(time.RFC3339Nano),
		lastAccessed, u.ScoreDecay, boolToInt(u.Tombstoned))
	if err != nil {
		return err
	}

	// Refresh the lexical entry: delete-then-insert keeps replay idempotent.
	if _, err := t.db.ExecContext(ctx, `DELETE FROM units_fts WHERE unit_id = ?`, u.ID); err != nil {
		return err
	}
	if u.Tombstoned {
		return nil
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO units_fts (unit_id, tokens) VALUES (?, ?)`,
		u.ID, strings.Join(u.Tokens, " "))
	return err
}

// Get hydrates units by id, preserving input order. Unknown ids are skipped.
func (t *Tenant) Get(ctx context.Context, ids []string) ([]types.Unit, error) {
	out := make([]types.Unit, 0, len(ids))
	for _, id := range ids {
		u, err := t.getOne(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func (t *Tenant) getOne(ctx context.Context, id string) (*types.Unit, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, text, kind, children, tokens, embedding,
		       ts_utc, entities, persons, source_session_id, source_event_ids,
		       created_at, updated_at, last_accessed_at, score_decay, tombstoned
		FROM units WHERE id = ?`, id)
	return scanUnit(row)
}

// VectorSearch is the dense view: top-k by cosine similarity.
func (t *Tenant) VectorSearch(ctx context.Context, query []float32, k int) ([]types.ScoredUnit, error) {
	if len(query) != t.Dim {
		return nil, fmt.Errorf("%w: query dimension %d, tenant requires %d",
			types.ErrInvalidArgument, len(query), t.Dim)
	}
	return t.vector.Search(ctx, query, k)
}

// LexicalSearch is the sparse view: BM25 ranking over unit tokens. Scores
// are negated FTS5 bm25() ranks, so higher is better.
func (t *Tenant) LexicalSearch(ctx context.Context, terms []string, k int) ([]types.ScoredUnit, error) {
	match := buildFTSQuery(terms)
	if match == "" {
		return nil, nil
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT f.unit_id, bm25(units_fts) AS rank
		FROM units_fts f
		WHERE units_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, k)
	if err != nil {
		return nil, &types.StoreError{Op: "LexicalSearch", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []types.ScoredUnit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, &types.StoreError{Op: "LexicalSearch", Err: err}
		}
		out = append(out, types.ScoredUnit{ID: id, Score: -rank})
	}
	return out, rows.Err()
}

// SymbolicFilter is the structured view: equality/range predicates over unit
// metadata. Results are unordered by relevance; ids come back newest first
// for determinism.
func (t *Tenant) SymbolicFilter(ctx context.Context, f *types.SymbolicFilter, k int) ([]string, error) {
	if f.Empty() {
		return nil, nil
	}

	conds := []string{"tombstoned = 0"}
	var args []any

	if f.After != nil {
		conds = append(conds, "ts_utc >= ?")
		args = append(args, f.After.UTC().Format(time.RFC3339Nano))
	}
	if f.Before != nil {
		conds = append(conds, "ts_utc <= ?")
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	for _, p := range f.Persons {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(units.persons) WHERE lower(json_each.value) = lower(?))")
		args = append(args, p)
	}
	for _, e := range f.Entities {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(units.entities) WHERE lower(json_each.value) = lower(?))")
		args = append(args, e)
	}
	args = append(args, k)

	query := "SELECT id FROM units WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY ts_utc DESC, id DESC LIMIT ?"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StoreError{Op: "SymbolicFilter", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &types.StoreError{Op: "SymbolicFilter", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot returns every unit row, tombstoned included. The consolidator
// iterates this and applies changes back through the serialized write path.
func (t *Tenant) Snapshot(ctx context.Context) ([]types.Unit, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, text, kind, children, tokens, embedding,
		       ts_utc, entities, persons, source_session_id, source_event_ids,
		       created_at, updated_at, last_accessed_at, score_decay, tombstoned
		FROM units ORDER BY id`)
	if err != nil {
		return nil, &types.StoreError{Op: "Snapshot", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []types.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (*types.Unit, error) {
	var u types.Unit
	var kind, children, tokens, tsUTC, entities, persons, eventIDs string
	var embedding []byte
	var createdAt, updatedAt string
	var lastAccessed sql.NullString
	var tombstoned int

	err := row.Scan(&u.ID, &u.Text, &kind, &children, &tokens, &embedding,
		&tsUTC, &entities, &persons, &u.Metadata.SourceSessionID, &eventIDs,
		&createdAt, &updatedAt, &lastAccessed, &u.ScoreDecay, &tombstoned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreError{Op: "scan unit", Err: err}
	}

	u.Kind = types.UnitKind(kind)
	_ = json.Unmarshal([]byte(children), &u.Children)
	_ = json.Unmarshal([]byte(tokens), &u.Tokens)
	_ = json.Unmarshal([]byte(entities), &u.Metadata.Entities)
	_ = json.Unmarshal([]byte(persons), &u.Metadata.Persons)
	_ = json.Unmarshal([]byte(eventIDs), &u.Metadata.SourceEventIDs)
	u.Embedding = deserializeEmbedding(embedding)
	u.Metadata.TimestampUTC, _ = time.Parse(time.RFC3339Nano, tsUTC)
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lastAccessed.Valid {
		u.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessed.String)
	}
	u.Tombstoned = tombstoned != 0
	return &u, nil
}

// buildFTSQuery converts free-form terms into a safe FTS5 MATCH expression.
// Each term is double-quoted (escaping embedded quotes) and terms are OR'd,
// so an unbalanced quote or operator keyword in user input cannot produce an
// FTS5 syntax error.
func buildFTSQuery(terms []string) string {
	var quoted []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
