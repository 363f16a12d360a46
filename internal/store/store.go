package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/internal/store/pgstore"
)

// Store is the root of all persistent state: the shared metadata database
// plus one lazily-opened Tenant handle per user. Tenant handles are cached
// for the process lifetime; each holds its own single-writer lock, so
// inter-tenant work runs fully in parallel.
type Store struct {
	cfg  *config.Config
	meta *MetadataDB

	mu      sync.Mutex
	tenants map[string]*Tenant

	openVector vectorOpener
}

// Open initialises the metadata database and selects the vector backend.
func Open(cfg *config.Config) (*Store, error) {
	meta, err := OpenMetadataDB(cfg.Storage.UserDBPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		meta:    meta,
		tenants: make(map[string]*Tenant),
	}

	switch cfg.Storage.VectorBackend {
	case "", "chromem":
		s.openVector = func(dir, userID string, dim int) (VectorIndex, error) {
			return openChromemIndex(dir)
		}
	case "pgvector":
		s.openVector = func(dir, userID string, dim int) (VectorIndex, error) {
			idx, err := pgstore.Open(cfg.Storage.PGDSN, userID, dim)
			if err != nil {
				return nil, err
			}
			return idx, nil
		}
	default:
		meta.Close()
		return nil, fmt.Errorf("store: unknown vector backend %q", cfg.Storage.VectorBackend)
	}

	return s, nil
}

// Meta returns the shared metadata database.
func (s *Store) Meta() *MetadataDB { return s.meta }

// Tenant returns the handle for userID, opening it on first use. The caller
// must have verified that the request's identity matches userID; the handle
// only ever touches state under the tenant's own directory.
func (s *Store) Tenant(userID string) (*Tenant, error) {
	if userID == "" {
		return nil, fmt.Errorf("store: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tenants[userID]; ok {
		return t, nil
	}

	dir := filepath.Join(s.cfg.Storage.VectorDBPath, userID)
	t, err := openTenant(dir, userID, s.cfg.LLM.EmbeddingDimension, s.openVector)
	if err != nil {
		return nil, fmt.Errorf("store: open tenant %s: %w", userID, err)
	}
	s.tenants[userID] = t
	return t, nil
}

// TenantIDs returns the tenants opened during this process lifetime. The
// consolidation ticker walks this list; tenants that never connected have
// nothing to consolidate.
func (s *Store) TenantIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every open tenant and the metadata database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, t := range s.tenants {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tenant %s: %w", id, err)
		}
		delete(s.tenants, id)
	}
	if err := s.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
