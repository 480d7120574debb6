package gateway

import "encoding/json"

// JSON-RPC 2.0 error codes, plus the gateway-specific range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeSessionError covers gateway-side failures: session problems,
	// unreachable devices, timeouts. The data.reason field narrows it.
	CodeSessionError = -32000
	// CodeAuthRequired indicates the method needs a verified token.
	CodeAuthRequired = -32001
)

// Failure reasons carried in the error data of CodeSessionError.
const (
	ReasonSessionNotFound   = "session_not_found"
	ReasonNoDeviceSelected  = "no_device_selected"
	ReasonDeviceUnreachable = "device_unreachable"
	ReasonDeviceTimeout     = "device_timeout"
	ReasonMalformedResponse = "malformed_device_response"
	ReasonToolCollision     = "tool_collision"
	ReasonAuthRequired      = "auth_required"
)

// protocolVersion is the MCP revision this gateway speaks.
const protocolVersion = "2024-11-05"

// Request is a JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// errorData is the structured payload attached to gateway errors.
type errorData struct {
	Reason string `json:"reason"`
}

func newResult(id json.RawMessage, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return newError(id, CodeInternalError, "marshal result failed", nil)
	}
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: raw}
}

func newRawResult(id, result json.RawMessage) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

func newError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

func newSessionError(id json.RawMessage, message, reason string) *Response {
	return newError(id, CodeSessionError, message, errorData{Reason: reason})
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Tool describes a callable tool in tools/list results.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// textContent is the single content block type the gateway emits.
type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callToolResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
