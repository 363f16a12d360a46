package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/internal/engine"
	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/session"
	"github.com/simplemem/simplemem/internal/store"
	"github.com/simplemem/simplemem/pkg/types"
)

const (
	serverName      = "simplemem"
	protocolVersion = "2024-11-05"
)

// gatewayFactory builds tenant-scoped gateways. Satisfied by
// *provider.Factory; an interface keeps the MCP package testable with a mock
// gateway behind it.
type gatewayFactory interface {
	ForTenant(apiKey string) provider.Gateway
}

// Server dispatches JSON-RPC 2.0 requests onto the memory engine and session
// manager. Every call is pinned to the tenant verified at the transport
// boundary; the server never touches state outside that tenant.
type Server struct {
	cfg     *config.Config
	auth    *auth.Service
	store   *store.Store
	factory gatewayFactory
	manager *session.Manager
	version string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVersion sets the version string reported in initialize responses.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates an MCP server over the given dependencies.
func NewServer(cfg *config.Config, authSvc *auth.Service, st *store.Store, factory gatewayFactory, manager *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		auth:    authSvc,
		store:   st,
		factory: factory,
		manager: manager,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runtime assembles the tenant-scoped handles for one request: decrypted
// credential, gateway, engine, and tenant store.
func (s *Server) runtime(ctx context.Context, tc auth.TenantContext) (*session.Runtime, error) {
	apiKey, err := s.auth.Credential(ctx, tc)
	if err != nil {
		return nil, err
	}
	gw := s.factory.ForTenant(apiKey)
	tenant, err := s.store.Tenant(tc.UserID)
	if err != nil {
		return nil, err
	}
	return &session.Runtime{
		Tenant:  tenant,
		Engine:  engine.New(gw, s.cfg),
		Gateway: gw,
	}, nil
}

// HandleRequest processes one JSON-RPC 2.0 request for an authenticated
// tenant and returns the serialized response.
func (s *Server) HandleRequest(ctx context.Context, tc auth.TenantContext, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, types.RPCCodeParse, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, types.RPCCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = s.handleInitialize()
	case "initialized", "notifications/initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result = s.handleToolsList()
	case "tools/call":
		result, err = s.handleToolsCall(ctx, tc, req.Params)
	default:
		return s.errorResponse(req.ID, types.RPCCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, types.RPCCode(err), err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) handleInitialize() MCPInitializeResult {
	return MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: serverName, Version: s.version},
	}
}

func (s *Server) handleToolsList() MCPToolsListResult {
	return MCPToolsListResult{Tools: toolDefinitions()}
}

// handleToolsCall decodes the tool name and arguments and routes to the
// matching handler.
func (s *Server) handleToolsCall(ctx context.Context, tc auth.TenantContext, params interface{}) (*MCPToolCallResult, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	var call MCPToolCallParams
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	var result interface{}
	switch call.Name {
	case "memory_add":
		result, err = s.memoryAdd(ctx, tc, args)
	case "memory_query":
		result, err = s.memoryQuery(ctx, tc, args)
	case "memory_delete":
		result, err = s.memoryDelete(ctx, tc, args)
	case "session_start":
		result, err = s.sessionStart(ctx, tc, args)
	case "session_record":
		result, err = s.sessionRecord(ctx, tc, args)
	case "session_stop":
		result, err = s.sessionStop(ctx, tc, args)
	case "session_end":
		result, err = s.sessionEnd(ctx, tc, args)
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", types.ErrInvalidArgument, call.Name)
	}
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func (s *Server) memoryAdd(ctx context.Context, tc auth.TenantContext, raw []byte) (*MemoryAddResult, error) {
	var args MemoryAddArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if len(args.Turns) == 0 {
		return nil, fmt.Errorf("%w: turns is required", types.ErrInvalidArgument)
	}

	anchor := time.Now().UTC()
	if args.AnchorTime != "" {
		ts, err := time.Parse(time.RFC3339, args.AnchorTime)
		if err != nil {
			return nil, fmt.Errorf("%w: anchor_time: %v", types.ErrInvalidArgument, err)
		}
		anchor = ts.UTC()
	}

	turns := make([]engine.Turn, 0, len(args.Turns))
	for _, t := range args.Turns {
		if t.Content == "" {
			continue
		}
		turn := engine.Turn{Speaker: t.Speaker, Content: t.Content}
		if t.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, t.Timestamp); err == nil {
				turn.Timestamp = ts.UTC()
			}
		}
		turns = append(turns, turn)
	}

	rt, err := s.runtime(ctx, tc)
	if err != nil {
		return nil, err
	}
	ids, err := rt.Engine.AddDialogue(ctx, rt.Tenant, turns, anchor, "", nil)
	if err != nil {
		return nil, err
	}

	return &MemoryAddResult{
		UnitIDs: ids,
		Stored:  len(ids),
		Message: fmt.Sprintf("Stored %d memory units.", len(ids)),
	}, nil
}

func (s *Server) memoryQuery(ctx context.Context, tc auth.TenantContext, raw []byte) (*MemoryQueryResult, error) {
	var args MemoryQueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrInvalidArgument)
	}

	rt, err := s.runtime(ctx, tc)
	if err != nil {
		return nil, err
	}
	answer, units, err := rt.Engine.Query(ctx, rt.Tenant, args.Query, args.History)
	if err != nil {
		return nil, err
	}

	views := make([]UnitView, 0, len(units))
	for _, u := range units {
		views = append(views, unitView(u))
	}
	return &MemoryQueryResult{
		Answer:       answer.AnswerText,
		CitedUnitIDs: answer.CitedUnitIDs,
		Units:        views,
	}, nil
}

func (s *Server) memoryDelete(ctx context.Context, tc auth.TenantContext, raw []byte) (*MemoryDeleteResult, error) {
	var args MemoryDeleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", types.ErrInvalidArgument)
	}

	rt, err := s.runtime(ctx, tc)
	if err != nil {
		return nil, err
	}
	if err := rt.Engine.Delete(ctx, rt.Tenant, args.ID); err != nil {
		return nil, err
	}
	return &MemoryDeleteResult{ID: args.ID, Deleted: true}, nil
}

func (s *Server) sessionStart(ctx context.Context, tc auth.TenantContext, raw []byte) (*StartResult, error) {
	var args SessionStartArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	rt, err := s.runtime(ctx, tc)
	if err != nil {
		return nil, err
	}
	return s.manager.Start(ctx, tc.UserID, rt, args.ContentSessionID, args.Project, args.UserPrompt)
}

func (s *Server) sessionRecord(ctx context.Context, tc auth.TenantContext, raw []byte) (*SessionRecordResult, error) {
	var args SessionRecordArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if args.MemorySessionID == "" {
		return nil, fmt.Errorf("%w: memory_session_id is required", types.ErrInvalidArgument)
	}

	var ts time.Time
	if args.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, args.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", types.ErrInvalidArgument, err)
		}
		ts = parsed
	}

	ev, err := s.manager.Record(ctx, tc.UserID, args.MemorySessionID, types.EventKind(args.Kind), args.Payload, ts)
	if err != nil {
		return nil, err
	}
	return &SessionRecordResult{EventID: ev.EventID, Seq: ev.Seq}, nil
}

func (s *Server) sessionStop(ctx context.Context, tc auth.TenantContext, raw []byte) (*StopReport, error) {
	var args SessionStopArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if args.MemorySessionID == "" {
		return nil, fmt.Errorf("%w: memory_session_id is required", types.ErrInvalidArgument)
	}

	rt, err := s.runtime(ctx, tc)
	if err != nil {
		return nil, err
	}
	return s.manager.Stop(ctx, tc.UserID, rt, args.MemorySessionID)
}

func (s *Server) sessionEnd(ctx context.Context, tc auth.TenantContext, raw []byte) (*SessionEndResult, error) {
	var args SessionEndArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if args.MemorySessionID == "" {
		return nil, fmt.Errorf("%w: memory_session_id is required", types.ErrInvalidArgument)
	}

	if err := s.manager.End(ctx, tc.UserID, args.MemorySessionID, args.PruneEvents); err != nil {
		return nil, err
	}
	return &SessionEndResult{MemorySessionID: args.MemorySessionID, Ended: true}, nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
