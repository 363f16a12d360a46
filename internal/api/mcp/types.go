// Package mcp implements the Model Context Protocol surface for SimpleMem:
// JSON-RPC 2.0 tools over Streamable HTTP, with bearer-token tenancy on
// every call.
package mcp

import (
	"time"

	"github.com/simplemem/simplemem/internal/session"
	"github.com/simplemem/simplemem/pkg/types"
)

// TurnArg is one dialogue turn inside a memory_add call.
type TurnArg struct {
	Speaker   string `json:"speaker,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"` // RFC 3339; defaults to the anchor
}

// MemoryAddArgs contains arguments for the memory_add tool.
type MemoryAddArgs struct {
	Turns      []TurnArg `json:"turns"`                 // dialogue to remember (required)
	AnchorTime string    `json:"anchor_time,omitempty"` // RFC 3339 anchor for relative times; defaults to now
}

// MemoryAddResult contains the result of memory_add.
type MemoryAddResult struct {
	UnitIDs []string `json:"unit_ids"` // ids of the units now carrying the dialogue's facts
	Stored  int      `json:"stored"`   // number of units written
	Message string   `json:"message"`
}

// MemoryQueryArgs contains arguments for the memory_query tool.
type MemoryQueryArgs struct {
	Query   string   `json:"query"`             // natural-language question (required)
	History []string `json:"history,omitempty"` // optional recent conversation turns for planning
}

// UnitView is the client-facing projection of a retrieved unit.
type UnitView struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	TimestampUTC string `json:"timestamp_utc"`
	Kind         string `json:"kind"`
}

// MemoryQueryResult contains the result of memory_query.
type MemoryQueryResult struct {
	Answer       string     `json:"answer"`
	CitedUnitIDs []string   `json:"cited_unit_ids,omitempty"`
	Units        []UnitView `json:"units,omitempty"` // the retrieved evidence set
}

// MemoryDeleteArgs contains arguments for the memory_delete tool.
type MemoryDeleteArgs struct {
	ID string `json:"id"` // unit id to tombstone (required)
}

// MemoryDeleteResult contains the result of memory_delete.
type MemoryDeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// SessionStartArgs contains arguments for the session_start tool.
type SessionStartArgs struct {
	ContentSessionID string `json:"content_session_id"` // client session tag (required)
	Project          string `json:"project,omitempty"`
	UserPrompt       string `json:"user_prompt,omitempty"` // seeds the injected context bundle
}

// SessionRecordArgs contains arguments for the session_record tool.
type SessionRecordArgs struct {
	MemorySessionID string `json:"memory_session_id"` // required
	Kind            string `json:"kind"`              // message, tool_use, or file_change (required)
	Payload         string `json:"payload"`           // redacted before persistence
	Timestamp       string `json:"timestamp,omitempty"`
}

// SessionRecordResult contains the result of session_record.
type SessionRecordResult struct {
	EventID string `json:"event_id"`
	Seq     int64  `json:"seq"` // server-assigned order within the session
}

// SessionStopArgs contains arguments for the session_stop tool.
type SessionStopArgs struct {
	MemorySessionID string `json:"memory_session_id"` // required
}

// SessionEndArgs contains arguments for the session_end tool.
type SessionEndArgs struct {
	MemorySessionID string `json:"memory_session_id"` // required
	PruneEvents     bool   `json:"prune_events,omitempty"`
}

// SessionEndResult contains the result of session_end.
type SessionEndResult struct {
	MemorySessionID string `json:"memory_session_id"`
	Ended           bool   `json:"ended"`
}

// StartResult and StopReport are returned by session_start and session_stop.
type (
	StartResult = session.StartResult
	StopReport  = session.StopReport
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // must be "2.0"
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"` // string, number, or null
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}

// unitView projects a unit for transport.
func unitView(u types.Unit) UnitView {
	return UnitView{
		ID:           u.ID,
		Text:         u.Text,
		TimestampUTC: u.Metadata.TimestampUTC.UTC().Format(time.RFC3339),
		Kind:         string(u.Kind),
	}
}
