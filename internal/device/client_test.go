package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// rewriteTransport sends every request to the test server regardless of
// the tunnel-subdomain host the client computed.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}

	c := NewClient("devices.example.com", "svc-id", "svc-secret", slog.New(slog.DiscardHandler))
	c.httpClient = &http.Client{Transport: &rewriteTransport{target: target}}
	return c
}

func decodeRequest(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func writeJSONResponse(w http.ResponseWriter, id json.RawMessage, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, id, result)
}

func TestOrigin(t *testing.T) {
	c := NewClient("devices.example.com", "id", "secret", slog.New(slog.DiscardHandler))
	if got := c.Origin("dev-1"); got != "https://dev-1.devices.example.com" {
		t.Errorf("Origin = %q", got)
	}
}

func TestInitializeSession(t *testing.T) {
	var sawInitialized bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("CF-Access-Client-Id") != "svc-id" ||
			r.Header.Get("CF-Access-Client-Secret") != "svc-secret" {
			http.Error(w, "missing tunnel credentials", http.StatusForbidden)
			return
		}

		req := decodeRequest(t, r)
		switch req.Method {
		case "initialize":
			if r.Header.Get("X-Gateway-User-Id") != "user-1" {
				http.Error(w, "missing user header", http.StatusBadRequest)
				return
			}
			w.Header().Set("Mcp-Session-Id", "dev-sess-1")
			writeJSONResponse(w, req.ID, `{"protocolVersion":"2024-11-05"}`)
		case "notifications/initialized":
			if r.Header.Get("Mcp-Session-Id") != "dev-sess-1" {
				http.Error(w, "missing session header", http.StatusBadRequest)
				return
			}
			sawInitialized = true
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		}
	}))

	got, err := c.InitializeSession(context.Background(), "dev-1", "user-1", "gw-sess-1")
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if got != "dev-sess-1" {
		t.Errorf("session id = %q, want dev-sess-1", got)
	}
	if !sawInitialized {
		t.Error("initialized notification was not sent")
	}
}

func TestInitializeSessionMissingHeader(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		writeJSONResponse(w, req.ID, `{}`)
	}))

	if _, err := c.InitializeSession(context.Background(), "dev-1", "user-1", "gw-1"); !errors.Is(err, ErrNoSessionHeader) {
		t.Errorf("expected ErrNoSessionHeader, got %v", err)
	}
}

func TestCallToolSyncJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		req := decodeRequest(t, r)
		if req.Method != "tools/call" {
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		writeJSONResponse(w, req.ID, `{"content":[{"type":"text","text":"ok"}]}`)
	}))

	resp, err := c.CallTool(context.Background(), "dev-1", "sess", "user-1", "gw-1",
		json.RawMessage(`{"name":"echo","arguments":{}}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if !strings.Contains(string(resp.Result), `"ok"`) {
		t.Errorf("unexpected result: %s", resp.Result)
	}
}

func TestCallToolSSEOnPost(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		req := decodeRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		// Progress notification first, then the correlated result.
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"content\":[]}}\n\n", req.ID)
	}))

	resp, err := c.CallTool(context.Background(), "dev-1", "sess", "user-1", "gw-1",
		json.RawMessage(`{"name":"slow","arguments":{}}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if resp.Error != nil || len(resp.Result) == 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCallToolDeferredToStream(t *testing.T) {
	ids := make(chan json.RawMessage, 1)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			// Keepalive comment, then the response once the POST landed.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
			id := <-ids
			fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"deferred\"}]}}\n\n", id)
			flusher.Flush()
			return
		}
		req := decodeRequest(t, r)
		ids <- req.ID
		w.WriteHeader(http.StatusAccepted)
	}))

	resp, err := c.CallTool(context.Background(), "dev-1", "sess", "user-1", "gw-1",
		json.RawMessage(`{"name":"bg","arguments":{}}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !strings.Contains(string(resp.Result), "deferred") {
		t.Errorf("unexpected result: %s", resp.Result)
	}
}

func TestCallToolForwardsDeviceError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		req := decodeRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32602,"message":"bad arguments"}}`, req.ID)
	}))

	resp, err := c.CallTool(context.Background(), "dev-1", "sess", "user-1", "gw-1",
		json.RawMessage(`{"name":"x"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("expected device error forwarded, got %+v", resp)
	}
}

func TestListToolsSkipsInterimResults(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		req := decodeRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		// A result without a tool catalog is not terminal for listing.
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"progress\":50}}\n\n", req.ID)
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"tools\":[{\"name\":\"files_read\"}]}}\n\n", req.ID)
	}))

	result, err := c.ListTools(context.Background(), "dev-1", "sess", "user-1", "gw-1")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if !strings.Contains(string(result), "files_read") {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestStreamEndsWithoutResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
	}))

	_, err := c.ListTools(context.Background(), "dev-1", "sess", "user-1", "gw-1")
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
}

func TestNon2xxStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "tunnel unavailable", http.StatusBadGateway)
	}))

	_, err := c.CallTool(context.Background(), "dev-1", "sess", "user-1", "gw-1", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestNotify(t *testing.T) {
	var got rpcRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		w.WriteHeader(http.StatusAccepted)
	}))

	err := c.Notify(context.Background(), "dev-1", "sess", "user-1", "gw-1",
		"notifications/roots/list_changed", nil)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Method != "notifications/roots/list_changed" {
		t.Errorf("method = %q", got.Method)
	}
	if len(got.ID) != 0 {
		t.Errorf("notification carried an id: %s", got.ID)
	}
}
