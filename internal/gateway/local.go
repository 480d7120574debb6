package gateway

import "encoding/json"

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handleInitialize answers the MCP handshake for a new session.
func handleInitialize(id json.RawMessage) *Response {
	return newResult(id, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo: serverInfo{Name: "devgate", Version: "1.0"},
	})
}

func handlePing(id json.RawMessage) *Response {
	return newResult(id, map[string]any{})
}

// handlePromptsList returns an empty catalog; the gateway defines no
// prompts of its own and devices expose theirs via prompts/get.
func handlePromptsList(id json.RawMessage) *Response {
	return newResult(id, map[string]any{"prompts": []any{}})
}

func handleEmptyResources(id json.RawMessage) *Response {
	return newResult(id, map[string]any{"resources": []any{}})
}

func handleEmptyResourceTemplates(id json.RawMessage) *Response {
	return newResult(id, map[string]any{"resourceTemplates": []any{}})
}
