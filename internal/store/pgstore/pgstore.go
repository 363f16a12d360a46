// Package pgstore implements the dense vector index on PostgreSQL with the
// pgvector extension. It is an alternative to the embedded chromem backend
// for deployments that already run Postgres; selected with
// VECTOR_BACKEND=pgvector.
//
// Each tenant gets its own rows in a shared table, keyed by user_id, so one
// database serves all tenants while queries stay tenant-pinned.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/simplemem/simplemem/pkg/types"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS unit_embeddings (
	user_id   TEXT NOT NULL,
	unit_id   TEXT NOT NULL,
	content   TEXT NOT NULL DEFAULT '',
	embedding vector,
	PRIMARY KEY (user_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_unit_embeddings_user ON unit_embeddings(user_id);
`

// Index is a tenant-scoped view over the shared embeddings table.
type Index struct {
	db     *sql.DB
	userID string
	dim    int
}

// Open connects to Postgres, ensures the schema, and returns the tenant's
// index view.
func Open(dsn, userID string, dim int) (*Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgstore: PG_DSN is required for the pgvector backend")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: create schema: %w", err)
	}
	return &Index{db: db, userID: userID, dim: dim}, nil
}

// Add upserts a unit embedding.
func (i *Index) Add(ctx context.Context, id string, embedding []float32, text string) error {
	vec := pgvector.NewVector(embedding)
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO unit_embeddings (user_id, unit_id, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, unit_id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding`,
		i.userID, id, text, vec)
	if err != nil {
		return fmt.Errorf("pgstore: add: %w", err)
	}
	return nil
}

// Delete removes a unit embedding.
func (i *Index) Delete(ctx context.Context, id string) error {
	_, err := i.db.ExecContext(ctx,
		`DELETE FROM unit_embeddings WHERE user_id = $1 AND unit_id = $2`, i.userID, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

// Search returns the top-k unit ids by cosine similarity. pgvector's <=>
// operator yields cosine distance, so similarity = 1 - distance.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]types.ScoredUnit, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(query)

	rows, err := i.db.QueryContext(ctx, `
		SELECT unit_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM unit_embeddings
		WHERE user_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, vec, i.userID, k)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ScoredUnit
	for rows.Next() {
		var s types.ScoredUnit
		if err := rows.Scan(&s.ID, &s.Score); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the tenant's embedding count.
func (i *Index) Count() int {
	var n int
	if err := i.db.QueryRow(
		`SELECT COUNT(*) FROM unit_embeddings WHERE user_id = $1`, i.userID).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the database handle.
func (i *Index) Close() error { return i.db.Close() }
