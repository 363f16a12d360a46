package mcp

// toolDefinitions lists the tool surface exposed through tools/list. Schemas
// are plain JSON Schema objects; clients use them to shape tool calls.
func toolDefinitions() []MCPTool {
	return []MCPTool{
		{
			Name:        "memory_add",
			Description: "Store dialogue turns as long-term memory. Turns are compressed into atomic, self-contained facts with absolute timestamps and merged with related existing memories.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"turns": map[string]interface{}{
						"type":        "array",
						"description": "Dialogue turns to remember",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"speaker":   map[string]interface{}{"type": "string"},
								"content":   map[string]interface{}{"type": "string"},
								"timestamp": map[string]interface{}{"type": "string", "description": "RFC 3339 timestamp of the turn"},
							},
							"required": []string{"content"},
						},
					},
					"anchor_time": map[string]interface{}{
						"type":        "string",
						"description": "RFC 3339 anchor used to resolve relative times; defaults to now",
					},
				},
				"required": []string{"turns"},
			},
		},
		{
			Name:        "memory_query",
			Description: "Answer a question from stored memory. Plans a multi-view retrieval, ranks the results, and composes a grounded answer citing the memory units it relied on.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural-language question"},
					"history": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Recent conversation turns, newest last",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "memory_delete",
			Description: "Tombstone a memory unit by id. The unit stops appearing in retrieval but stays resolvable until garbage collection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Unit id"},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "session_start",
			Description: "Start a cross-session memory session. Returns the session id plus a context bundle built from prior session summaries and memories relevant to the opening prompt.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content_session_id": map[string]interface{}{"type": "string", "description": "Client-side session tag"},
					"project":            map[string]interface{}{"type": "string"},
					"user_prompt":        map[string]interface{}{"type": "string", "description": "Opening prompt used to select relevant memories"},
				},
				"required": []string{"content_session_id"},
			},
		},
		{
			Name:        "session_record",
			Description: "Append an event to an active session. Payloads are redacted before persistence; events are ordered by recording order.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_session_id": map[string]interface{}{"type": "string"},
					"kind":              map[string]interface{}{"type": "string", "enum": []string{"message", "tool_use", "file_change"}},
					"payload":           map[string]interface{}{"type": "string"},
					"timestamp":         map[string]interface{}{"type": "string", "description": "RFC 3339; defaults to now"},
				},
				"required": []string{"memory_session_id", "kind", "payload"},
			},
		},
		{
			Name:        "session_stop",
			Description: "Freeze an active session: extract observations from its events, store them as memories, and record a summary. Idempotent on already-stopped sessions.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_session_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"memory_session_id"},
			},
		},
		{
			Name:        "session_end",
			Description: "Finalise a stopped session. The session becomes immutable; events may optionally be pruned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_session_id": map[string]interface{}{"type": "string"},
					"prune_events":      map[string]interface{}{"type": "boolean"},
				},
				"required": []string{"memory_session_id"},
			},
		},
	}
}
