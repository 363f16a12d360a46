// Package server provides the HTTP surface around the MCP transport: tenant
// registration and token endpoints, health, and server info, with logging
// and panic-recovery middleware.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/pkg/types"
)

// Server is the HTTP front of the process. The MCP transport is mounted at
// /mcp; everything else is the REST auth and operations surface.
type Server struct {
	cfg     *config.Config
	auth    *auth.Service
	version string
	httpSrv *http.Server
}

// New assembles the HTTP server. mcpHandler is mounted at /mcp.
func New(cfg *config.Config, authSvc *auth.Service, mcpHandler http.Handler, version string) *Server {
	s := &Server{cfg: cfg, auth: authSvc, version: version}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/verify", s.handleVerify)
	mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/server/info", s.handleInfo)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           withRecovery(withLogging(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// registerRequest is the body of POST /api/auth/register.
type registerRequest struct {
	ProviderAPIKey string `json:"provider_api_key"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
	Token   string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID, token, err := s.auth.Register(r.Context(), req.ProviderAPIKey)
	if err != nil {
		writeError(w, types.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Success: true, UserID: userID, Token: token})
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}

	tc, err := s.auth.Verify(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, UserID: tc.UserID})
}

type refreshResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	fresh, err := s.auth.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, types.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Token: fresh})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type infoResponse struct {
	Version      string `json:"version"`
	EmbeddingDim int    `json:"embedding_dim"`
	LLMProvider  string `json:"llm_provider"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Version:      s.version,
		EmbeddingDim: s.cfg.LLM.EmbeddingDimension,
		LLMProvider:  s.cfg.LLM.Provider,
	})
}

// bearerToken extracts the token from the Authorization header, or "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
