package auth

// authRequiredMethods lists the JSON-RPC methods that must carry a
// verified bearer token. Everything else runs for anonymous sessions.
var authRequiredMethods = map[string]bool{
	"tools/call":            true,
	"resources/read":        true,
	"resources/subscribe":   true,
	"resources/unsubscribe": true,
	"prompts/get":           true,
}

// RequiresAuth reports whether the given method needs a verified token.
func RequiresAuth(method string) bool {
	return authRequiredMethods[method]
}
