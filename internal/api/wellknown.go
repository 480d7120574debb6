package api

import (
	"net/http"
	"strings"
)

// protectedResourceMetadata is the OAuth protected-resource document
// (RFC 9728) that tells MCP clients which authorization server guards
// the /mcp endpoint.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

type wellKnownHandler struct {
	externalURL string
	authServer  string
}

func newWellKnownHandler(externalURL, authServer string) *wellKnownHandler {
	return &wellKnownHandler{
		externalURL: strings.TrimSuffix(externalURL, "/"),
		authServer:  authServer,
	}
}

func (h *wellKnownHandler) protectedResource(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protectedResourceMetadata{
		Resource:               h.externalURL + "/mcp",
		AuthorizationServers:   []string{h.authServer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{"devices:read", "devices:write"},
	})
}
