package gateway

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relayforge/devgate/internal/auth"
)

func newTestServer(t *testing.T) (*httptest.Server, *handlerFixture) {
	t.Helper()
	f := newFixture(t)
	srv := NewServer(f.handler, f.sessions, "https://gateway.example.com", slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	srv.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, f
}

func postJSON(t *testing.T, url, sessionID, authorization, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInitializeAssignsSession(t *testing.T) {
	ts, f := newTestServer(t)

	resp := postJSON(t, ts.URL, "", "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("no session id assigned")
	}
	if _, err := f.sessions.Get(context.Background(), sessionID); err != nil {
		t.Errorf("assigned session not in store: %v", err)
	}
}

func TestNonInitializeWithoutSessionRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL, "", "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUnauthorizedChallenge(t *testing.T) {
	ts, f := newTestServer(t)
	f.initSession(t, "s1", false)

	resp := postJSON(t, ts.URL, "s1", "",
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"devices/list"}}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	want := `Bearer resource_metadata="https://gateway.example.com/.well-known/oauth-protected-resource/mcp"`
	if challenge != want {
		t.Errorf("WWW-Authenticate = %q, want %q", challenge, want)
	}
}

func TestNotificationReturns202(t *testing.T) {
	ts, f := newTestServer(t)
	f.initSession(t, "s1", false)

	resp := postJSON(t, ts.URL, "s1", "",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStandaloneStream(t *testing.T) {
	ts, f := newTestServer(t)
	f.initSession(t, "s1", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "s1")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Errorf("expected comment keepalive, got %q", line)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "missing")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	ts, f := newTestServer(t)
	f.initSession(t, "s1", false)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "s1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := f.sessions.Get(context.Background(), "s1"); err != ErrNoSession {
		t.Errorf("session still present after delete: %v", err)
	}
}

// Verify the fixture's anonymous verification path matches the real
// verifier contract for empty headers.
func TestVerifierContract(t *testing.T) {
	v := &mockVerifier{}
	if _, err := v.Verify(context.Background(), ""); err != auth.ErrNoToken {
		t.Errorf("empty header: %v", err)
	}
}
