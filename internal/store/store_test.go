package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/internal/config"
)

func testStoreConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.UserDBPath = filepath.Join(dir, "users.db")
	cfg.Storage.VectorDBPath = filepath.Join(dir, "vectors")
	cfg.Storage.VectorBackend = "chromem"
	cfg.LLM.EmbeddingDimension = testDim
	return cfg
}

func TestStoreOpen_UnknownBackend(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.Storage.VectorBackend = "faiss"
	_, err := Open(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vector backend")
}

func TestStore_TenantCachingAndIDs(t *testing.T) {
	st, err := Open(testStoreConfig(t))
	require.NoError(t, err)
	defer st.Close()

	assert.Empty(t, st.TenantIDs())

	t1, err := st.Tenant("alice")
	require.NoError(t, err)
	t2, err := st.Tenant("alice")
	require.NoError(t, err)
	assert.Same(t, t1, t2, "tenant handles are cached per process")

	_, err = st.Tenant("bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, st.TenantIDs())

	_, err = st.Tenant("")
	require.Error(t, err)
}
