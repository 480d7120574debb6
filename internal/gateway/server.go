package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	sessionHeader = "Mcp-Session-Id"

	// maxBodyBytes bounds a single JSON-RPC message.
	maxBodyBytes = 1 << 20

	// keepaliveInterval paces comments on the standalone event stream
	// so intermediaries do not reap the connection.
	keepaliveInterval = 25 * time.Second
)

// Server exposes the Handler over Streamable HTTP: POST carries
// JSON-RPC messages, GET opens a standalone event stream, DELETE ends
// the session.
type Server struct {
	handler     *Handler
	sessions    SessionStore
	externalURL string
	log         *slog.Logger
}

// NewServer wires the MCP transport. externalURL is the public origin
// of this gateway, used in WWW-Authenticate challenges.
func NewServer(handler *Handler, sessions SessionStore, externalURL string, log *slog.Logger) *Server {
	return &Server{
		handler:     handler,
		sessions:    sessions,
		externalURL: strings.TrimSuffix(externalURL, "/"),
		log:         log,
	}
}

// Register mounts the MCP endpoint on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /mcp", s.handlePost)
	mux.HandleFunc("GET /mcp", s.handleStream)
	mux.HandleFunc("DELETE /mcp", s.handleDelete)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeResponse(w, newError(nil, CodeParseError, "read body failed", nil), http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	assigned := false
	if sessionID == "" {
		// Only the handshake may run without a session; the gateway
		// assigns the id and returns it on the response.
		if peekMethod(body) != "initialize" {
			s.writeResponse(w, newSessionError(nil, "missing session id", ReasonSessionNotFound), http.StatusBadRequest)
			return
		}
		sessionID = uuid.NewString()
		assigned = true
	}

	resp, status := s.handler.Handle(r.Context(), sessionID, r.Header.Get("Authorization"), body)

	if assigned && status < 300 {
		w.Header().Set(sessionHeader, sessionID)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", s.challenge())
	}
	if resp == nil {
		w.WriteHeader(status)
		return
	}
	s.writeResponse(w, resp, status)
}

// handleStream serves the standalone event stream. The gateway pushes
// no server-initiated messages today, so the stream only carries
// keepalives until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		s.writeResponse(w, newSessionError(nil, "missing session id", ReasonSessionNotFound), http.StatusBadRequest)
		return
	}
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, ErrNoSession) {
			s.writeResponse(w, newSessionError(nil, "unknown session", ReasonSessionNotFound), http.StatusBadRequest)
			return
		}
		s.writeResponse(w, newError(nil, CodeInternalError, "session store failure", nil), http.StatusInternalServerError)
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "event stream required", http.StatusNotAcceptable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		s.writeResponse(w, newSessionError(nil, "missing session id", ReasonSessionNotFound), http.StatusBadRequest)
		return
	}
	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		s.log.Error("delete session failed", "session_id", sessionID, "error", err)
		s.writeResponse(w, newError(nil, CodeInternalError, "session store failure", nil), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("write response failed", "error", err)
	}
}

// challenge is the WWW-Authenticate value pointing clients at the
// protected-resource metadata document.
func (s *Server) challenge() string {
	return fmt.Sprintf(`Bearer resource_metadata=%q`, s.externalURL+"/.well-known/oauth-protected-resource/mcp")
}

func peekMethod(body []byte) string {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Method
}
