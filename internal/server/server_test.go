package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/pkg/types"
)

// memUsers is an in-memory UserStore; the REST surface never touches the
// tenant stores directly.
type memUsers struct {
	mu   sync.Mutex
	recs map[string]auth.UserRecord
}

func (m *memUsers) CreateUser(_ context.Context, rec auth.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]auth.UserRecord)
	}
	m.recs[rec.UserID] = rec
	return nil
}

func (m *memUsers) GetUser(_ context.Context, userID string) (*auth.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &rec, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.LLM.Provider = "litellm"
	cfg.LLM.EmbeddingDimension = 64

	vault, err := auth.NewVault(bytes.Repeat([]byte{0x41}, 32))
	require.NoError(t, err)
	authSvc := auth.NewService(&memUsers{}, vault, auth.NewTokenIssuer("test-secret", 1))

	s := New(cfg, authSvc, http.NotFoundHandler(), "1.2.3")
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func register(t *testing.T, ts *httptest.Server) registerResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"provider_api_key":"sk-provider-key"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out registerResponse
	decodeBody(t, resp, &out)
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServerInfo(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/server/info")
	require.NoError(t, err)

	var info infoResponse
	decodeBody(t, resp, &info)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, 64, info.EmbeddingDim)
	assert.Equal(t, "litellm", info.LLMProvider)
}

func TestRegister_IssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)

	reg := register(t, ts)
	assert.True(t, reg.Success)
	assert.NotEmpty(t, reg.UserID)
	require.NotEmpty(t, reg.Token)

	resp, err := http.Get(ts.URL + "/api/auth/verify?token=" + reg.Token)
	require.NoError(t, err)

	var ver verifyResponse
	decodeBody(t, resp, &ver)
	assert.True(t, ver.Valid)
	assert.Equal(t, reg.UserID, ver.UserID)
}

func TestRegister_RequiresProviderKey(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerify_InvalidTokenIsNotAnError(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/auth/verify?token=garbage")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "verification failure is a result, not an error")

	var ver verifyResponse
	decodeBody(t, resp, &ver)
	assert.False(t, ver.Valid)
	assert.Empty(t, ver.UserID)
}

func TestVerify_AcceptsBearerHeader(t *testing.T) {
	ts := newTestServer(t)
	reg := register(t, ts)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/verify", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+reg.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var ver verifyResponse
	decodeBody(t, resp, &ver)
	assert.True(t, ver.Valid)
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	reg := register(t, ts)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/auth/refresh", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+reg.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ref refreshResponse
	decodeBody(t, resp, &ref)
	require.NotEmpty(t, ref.Token)

	verify, err := http.Get(fmt.Sprintf("%s/api/auth/verify?token=%s", ts.URL, ref.Token))
	require.NoError(t, err)
	var ver verifyResponse
	decodeBody(t, verify, &ver)
	assert.True(t, ver.Valid)
}

func TestRefresh_RequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/auth/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegister_RejectsWrongMethod(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/auth/register")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
