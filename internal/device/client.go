// Package device implements the HTTP client side of the gateway's
// device transport. Each device exposes a Streamable HTTP MCP endpoint
// behind a tunnel subdomain; responses may arrive synchronously as
// JSON or asynchronously over a server-sent event stream.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// sessionHeader carries the device-side MCP session id.
	sessionHeader = "Mcp-Session-Id"

	// Correlation headers let device-side logs tie requests back to the
	// gateway session that produced them.
	userIDHeader    = "X-Gateway-User-Id"
	sessionIDHeader = "X-Gateway-Session-Id"

	// Tunnel service-token headers.
	tunnelClientIDHeader = "CF-Access-Client-Id"
	tunnelSecretHeader   = "CF-Access-Client-Secret"

	protocolVersion = "2024-11-05"

	controlTimeout = 10 * time.Second
	listTimeout    = 30 * time.Second
	callTimeout    = 60 * time.Second
)

var (
	// ErrTimeout indicates the device did not answer within the budget
	// for the operation.
	ErrTimeout = errors.New("device response timed out")

	// ErrNoResult indicates the device's event stream ended without a
	// response to the pending request.
	ErrNoResult = errors.New("device stream ended without a result")

	// ErrNoSessionHeader indicates the device accepted initialize but
	// did not assign a session id.
	ErrNoSessionHeader = errors.New("device did not return a session id")
)

// StatusError is returned when the device endpoint answers with an
// unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device returned status %d: %s", e.StatusCode, e.Body)
}

// RPCError is a JSON-RPC error object produced by the device. It is
// forwarded to the client verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is the device's answer to a single JSON-RPC request.
// Exactly one of Result and Error is set.
type Response struct {
	Result json.RawMessage
	Error  *RPCError
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Client talks to device MCP endpoints over their tunnel subdomains.
type Client struct {
	tunnelDomain string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	log          *slog.Logger
}

// NewClient creates a device transport client. The tunnel service
// token (clientID, clientSecret) is attached to every request.
func NewClient(tunnelDomain, clientID, clientSecret string, log *slog.Logger) *Client {
	return &Client{
		tunnelDomain: tunnelDomain,
		clientID:     clientID,
		clientSecret: clientSecret,
		// Per-operation deadlines come from the request context.
		httpClient: &http.Client{},
		log:        log,
	}
}

// Origin returns the HTTPS origin for a device's tunnel subdomain.
func (c *Client) Origin(deviceID string) string {
	return "https://" + deviceID + "." + c.tunnelDomain
}

// InitializeSession performs the MCP initialize handshake with a
// device and returns the session id it assigned.
func (c *Client) InitializeSession(ctx context.Context, deviceID, userID, gatewaySessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    "devgate",
			"version": "1.0",
		},
	})
	id := newRequestID()

	resp, err := c.post(ctx, deviceID, "", userID, gatewaySessionID, rpcRequest{
		JSONRPC: "2.0", ID: id, Method: "initialize", Params: params,
	})
	if err != nil {
		return "", mapTimeout(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readStatusError(resp)
	}

	deviceSessionID := resp.Header.Get(sessionHeader)
	if deviceSessionID == "" {
		return "", ErrNoSessionHeader
	}

	result, err := c.decodePostBody(ctx, resp, id, resultOrError)
	if err != nil {
		return "", mapTimeout(ctx, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("device rejected initialize: %s (code %d)", result.Error.Message, result.Error.Code)
	}

	if err := c.notify(ctx, deviceID, deviceSessionID, userID, gatewaySessionID, "notifications/initialized", nil); err != nil {
		return "", mapTimeout(ctx, err)
	}

	c.log.Debug("device session initialized",
		"device_id", deviceID, "device_session_id", deviceSessionID)
	return deviceSessionID, nil
}

// ListTools asks the device for its tool catalog. The device may answer
// on the POST body or on a separately opened event stream.
func (c *Client) ListTools(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	resp, err := c.roundTrip(ctx, deviceID, deviceSessionID, userID, gatewaySessionID,
		"tools/list", nil, hasToolsOrError)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("device tools/list failed: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

// CallTool invokes a tool on the device. Device JSON-RPC errors are
// returned in the Response, not as a Go error.
func (c *Client) CallTool(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string, params json.RawMessage) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return c.roundTrip(ctx, deviceID, deviceSessionID, userID, gatewaySessionID,
		"tools/call", params, resultOrError)
}

// Proxy forwards a control-plane request (resources/read, prompts/get,
// subscriptions) to the device synchronously.
func (c *Client) Proxy(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	return c.roundTrip(ctx, deviceID, deviceSessionID, userID, gatewaySessionID,
		method, params, resultOrError)
}

// Notify forwards a notification (a request without an id) to the
// device. Devices acknowledge notifications with 202.
func (c *Client) Notify(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	return mapTimeout(ctx, c.notify(ctx, deviceID, deviceSessionID, userID, gatewaySessionID, method, params))
}

// roundTrip sends a request and collects the correlated response. A
// standalone event stream is opened first so that answers delivered
// out-of-band are not missed.
func (c *Client) roundTrip(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage, terminal func(*Response) bool) (*Response, error) {
	id := newRequestID()

	stream, streamErr := c.openEventStream(ctx, deviceID, deviceSessionID, userID, gatewaySessionID)
	if stream != nil {
		defer stream.Close()
	}

	resp, err := c.post(ctx, deviceID, deviceSessionID, userID, gatewaySessionID, rpcRequest{
		JSONRPC: "2.0", ID: id, Method: method, Params: params,
	})
	if err != nil {
		return nil, mapTimeout(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Response will arrive on the standalone stream.
		if stream == nil {
			return nil, fmt.Errorf("device deferred response but stream unavailable: %w", streamErr)
		}
		r, err := correlate(stream, id, terminal)
		return r, mapTimeout(ctx, err)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, readStatusError(resp)
	default:
		r, err := c.decodePostBody(ctx, resp, id, terminal)
		return r, mapTimeout(ctx, err)
	}
}

// decodePostBody handles both response shapes a device may produce on
// the POST body: a plain JSON object or an event stream.
func (c *Client) decodePostBody(ctx context.Context, resp *http.Response, id json.RawMessage, terminal func(*Response) bool) (*Response, error) {
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch ct {
	case "text/event-stream":
		stream := newEventStream(resp.Body)
		return correlate(stream, id, terminal)
	case "application/json", "":
		var out rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode device response: %w", err)
		}
		r := &Response{Result: out.Result, Error: out.Error}
		if !terminal(r) {
			return nil, ErrNoResult
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unexpected device content type %q", ct)
	}
}

func (c *Client) openEventStream(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string) (*eventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Origin(deviceID)+"/mcp", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, deviceSessionID, userID, gatewaySessionID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return newEventStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string, req rpcRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Origin(deviceID)+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq, deviceSessionID, userID, gatewaySessionID)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	return c.httpClient.Do(httpReq)
}

func (c *Client) notify(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage) error {
	resp, err := c.post(ctx, deviceID, deviceSessionID, userID, gatewaySessionID, rpcRequest{
		JSONRPC: "2.0", Method: method, Params: params,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, deviceSessionID, userID, gatewaySessionID string) {
	req.Header.Set(tunnelClientIDHeader, c.clientID)
	req.Header.Set(tunnelSecretHeader, c.clientSecret)
	if deviceSessionID != "" {
		req.Header.Set(sessionHeader, deviceSessionID)
	}
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if gatewaySessionID != "" {
		req.Header.Set(sessionIDHeader, gatewaySessionID)
	}
}

func newRequestID() json.RawMessage {
	id, _ := json.Marshal(uuid.NewString())
	return id
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func mapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// resultOrError accepts any response carrying a result or an error.
func resultOrError(r *Response) bool {
	return len(r.Result) > 0 || r.Error != nil
}

// hasToolsOrError accepts tools/list responses only once the tool
// catalog is present, so interim progress results are skipped.
func hasToolsOrError(r *Response) bool {
	if r.Error != nil {
		return true
	}
	var probe struct {
		Tools json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(r.Result, &probe); err != nil {
		return false
	}
	return probe.Tools != nil
}
