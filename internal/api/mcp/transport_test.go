package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/pkg/types"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`

func newTestTransport(t *testing.T) (*httptest.Server, *testFixture) {
	t.Helper()
	f := newTestFixture(t)
	ts := httptest.NewServer(NewHTTPTransport(f.srv))
	t.Cleanup(ts.Close)
	return ts, f
}

func doRequest(t *testing.T, method, url, token, body string, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestTransport_RequiresBearerToken(t *testing.T) {
	ts, _ := newTestTransport(t)

	resp := doRequest(t, http.MethodPost, ts.URL, "", initializeBody, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var rpcResp JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, types.RPCCodeAuth, rpcResp.Error.Code)
}

func TestTransport_AllocatesAndEchoesSessionID(t *testing.T) {
	ts, f := newTestTransport(t)

	resp := doRequest(t, http.MethodPost, ts.URL, f.token, initializeBody, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	allocated := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, allocated, "first contact allocates a transport session")

	resp2 := doRequest(t, http.MethodPost, ts.URL, f.token, initializeBody,
		http.Header{"Mcp-Session-Id": []string{allocated}})
	defer resp2.Body.Close()
	assert.Equal(t, allocated, resp2.Header.Get("Mcp-Session-Id"), "a known session id is echoed back")
}

func TestTransport_BatchPreservesOrder(t *testing.T) {
	ts, f := newTestTransport(t)

	batch := `[
		{"jsonrpc":"2.0","id":"first","method":"tools/list"},
		{"jsonrpc":"2.0","id":"second","method":"initialize","params":{}}
	]`
	resp := doRequest(t, http.MethodPost, ts.URL, f.token, batch, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var responses []JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&responses))
	require.Len(t, responses, 2)
	assert.Equal(t, "first", responses[0].ID)
	assert.Equal(t, "second", responses[1].ID)
}

func TestTransport_EmptyBatchRejected(t *testing.T) {
	ts, f := newTestTransport(t)

	resp := doRequest(t, http.MethodPost, ts.URL, f.token, `[]`, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransport_SSEDemandsEventStreamAccept(t *testing.T) {
	ts, f := newTestTransport(t)

	resp := doRequest(t, http.MethodGet, ts.URL, f.token, "",
		http.Header{"Accept": []string{"application/json"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestTransport_SSEOpensStream(t *testing.T) {
	ts, f := newTestTransport(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
}

func TestTransport_DeleteTerminatesSession(t *testing.T) {
	ts, f := newTestTransport(t)

	// No header names a session to terminate.
	resp := doRequest(t, http.MethodDelete, ts.URL, f.token, "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown sessions are reported, not silently absorbed.
	resp = doRequest(t, http.MethodDelete, ts.URL, f.token, "",
		http.Header{"Mcp-Session-Id": []string{"never-seen"}})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	post := doRequest(t, http.MethodPost, ts.URL, f.token, initializeBody, nil)
	post.Body.Close()
	id := post.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, id)

	resp = doRequest(t, http.MethodDelete, ts.URL, f.token, "",
		http.Header{"Mcp-Session-Id": []string{id}})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Terminating twice hits the unknown-session path.
	resp = doRequest(t, http.MethodDelete, ts.URL, f.token, "",
		http.Header{"Mcp-Session-Id": []string{id}})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransport_UnsupportedMethod(t *testing.T) {
	ts, _ := newTestTransport(t)

	resp := doRequest(t, http.MethodPatch, ts.URL, "", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
