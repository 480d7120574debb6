package api

import (
	"context"
	"net/http"

	"github.com/relayforge/devgate/internal/auth"
	"github.com/relayforge/devgate/internal/store"
)

// TokenVerifier validates Authorization header values for the REST
// surface.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (*auth.Context, error)
}

// MCPServer mounts the MCP transport endpoints on a mux.
type MCPServer interface {
	Register(mux *http.ServeMux)
}

// RouterDeps holds the dependencies needed by the HTTP router.
type RouterDeps struct {
	Store        store.Store
	Verifier     TokenVerifier
	MCP          MCPServer
	TunnelDomain string
	ExternalURL  string
	AuthServer   string
}

// NewRouter creates the http.Handler serving the MCP endpoint, the
// device enrollment API, and the well-known metadata.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	deps.MCP.Register(mux)

	dh := &deviceHandler{store: deps.Store, tunnelDomain: deps.TunnelDomain}
	mux.Handle("GET /api/v1/devices", bearerAuthMiddleware(deps.Verifier, http.HandlerFunc(dh.list)))
	mux.Handle("POST /api/v1/devices", bearerAuthMiddleware(deps.Verifier, http.HandlerFunc(dh.enroll)))
	mux.Handle("GET /api/v1/devices/{id}", bearerAuthMiddleware(deps.Verifier, http.HandlerFunc(dh.get)))
	mux.Handle("DELETE /api/v1/devices/{id}", bearerAuthMiddleware(deps.Verifier, http.HandlerFunc(dh.delete)))

	ah := &auditHandler{store: deps.Store}
	mux.Handle("GET /api/v1/audit", bearerAuthMiddleware(deps.Verifier, http.HandlerFunc(ah.query)))

	wk := newWellKnownHandler(deps.ExternalURL, deps.AuthServer)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource/mcp", wk.protectedResource)

	hc := &healthHandler{store: deps.Store}
	mux.HandleFunc("GET /api/v1/health", hc.check)

	// Apply middleware chain: CORS -> RequestID -> Logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)

	return handler
}

type healthHandler struct {
	store store.Store
}

func (h *healthHandler) check(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
