// Package gateway implements the MCP endpoint that bridges AI clients
// to a user's enrolled devices. It owns session state, token
// verification, and the dispatch of each JSON-RPC method to either a
// local handler or the selected device.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relayforge/devgate/internal/audit"
	"github.com/relayforge/devgate/internal/auth"
	"github.com/relayforge/devgate/internal/device"
	"github.com/relayforge/devgate/internal/store"
)

// DeviceCaller is the transport used to reach a device's MCP endpoint.
type DeviceCaller interface {
	InitializeSession(ctx context.Context, deviceID, userID, gatewaySessionID string) (string, error)
	ListTools(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string) (json.RawMessage, error)
	CallTool(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID string, params json.RawMessage) (*device.Response, error)
	Proxy(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage) (*device.Response, error)
	Notify(ctx context.Context, deviceID, deviceSessionID, userID, gatewaySessionID, method string, params json.RawMessage) error
}

// DeviceRegistry answers ownership questions about enrolled devices.
type DeviceRegistry interface {
	ListDevicesForUser(ctx context.Context, userID string) ([]store.Device, error)
	GetDeviceForUser(ctx context.Context, deviceID, userID string) (*store.Device, error)
	TouchDevice(ctx context.Context, deviceID string) error
}

// TokenVerifier validates Authorization header values.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (*auth.Context, error)
}

// AuditRecorder persists tool invocation records. *audit.Logger
// satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, rec *store.AuditRecord) error
}

var _ AuditRecorder = (*audit.Logger)(nil)

// Handler dispatches JSON-RPC requests for one gateway deployment.
type Handler struct {
	sessions SessionStore
	verifier TokenVerifier
	devices  DeviceCaller
	registry DeviceRegistry
	audit    AuditRecorder
	log      *slog.Logger
}

// NewHandler wires the dispatcher.
func NewHandler(sessions SessionStore, verifier TokenVerifier, devices DeviceCaller, registry DeviceRegistry, auditLog AuditRecorder, log *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		verifier: verifier,
		devices:  devices,
		registry: registry,
		audit:    auditLog,
		log:      log,
	}
}

// Handle processes one JSON-RPC message. It returns the response (nil
// for notifications) and the HTTP status the transport should use.
func (h *Handler) Handle(ctx context.Context, sessionID, authorization string, body []byte) (*Response, int) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return newError(nil, CodeParseError, "parse error", nil), http.StatusBadRequest
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return newError(req.ID, CodeInvalidRequest, "invalid request", nil), http.StatusBadRequest
	}

	// An unverifiable token counts as absent on open methods, but a
	// protected method needs a credential that actually verifies.
	authCtx, err := h.verifier.Verify(ctx, authorization)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		h.log.Warn("token verification failed", "session_id", sessionID, "error", err)
		authCtx = nil
	}
	if authCtx == nil && auth.RequiresAuth(req.Method) {
		return newError(req.ID, CodeAuthRequired, "authentication required", errorData{Reason: ReasonAuthRequired}), http.StatusUnauthorized
	}

	sess, resp, status := h.resolveSession(ctx, sessionID, req, authCtx)
	if resp != nil {
		return resp, status
	}

	if req.IsNotification() {
		h.handleNotification(ctx, sess, req)
		return nil, http.StatusAccepted
	}

	switch req.Method {
	case "initialize":
		return handleInitialize(req.ID), http.StatusOK
	case "ping":
		return handlePing(req.ID), http.StatusOK
	case "prompts/list":
		return handlePromptsList(req.ID), http.StatusOK
	case "tools/list":
		return h.handleToolsList(ctx, sess, req.ID)
	case "tools/call":
		return h.handleToolCall(ctx, sess, req)
	case "resources/list":
		if sess.DeviceID == "" {
			return handleEmptyResources(req.ID), http.StatusOK
		}
		return h.proxyToDevice(ctx, sess, req)
	case "resources/templates/list":
		if sess.DeviceID == "" {
			return handleEmptyResourceTemplates(req.ID), http.StatusOK
		}
		return h.proxyToDevice(ctx, sess, req)
	case "resources/read":
		// Discovery reads degrade to an empty answer without a device,
		// like the resource listings.
		if sess.DeviceID == "" {
			return newRawResult(req.ID, json.RawMessage("null")), http.StatusOK
		}
		return h.proxyToDevice(ctx, sess, req)
	case "resources/subscribe", "resources/unsubscribe", "prompts/get":
		if sess.DeviceID == "" {
			return newSessionError(req.ID, "no device selected", ReasonNoDeviceSelected), http.StatusBadRequest
		}
		return h.proxyToDevice(ctx, sess, req)
	default:
		return newError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), http.StatusOK
	}
}

// resolveSession loads or creates the gateway session and binds the
// verified identity to it.
func (h *Handler) resolveSession(ctx context.Context, sessionID string, req Request, authCtx *auth.Context) (Session, *Response, int) {
	userID := AnonymousUser
	if authCtx != nil {
		userID = authCtx.UserID
	}

	var (
		sess Session
		err  error
	)
	if req.Method == "initialize" {
		sess, err = h.sessions.GetOrCreate(ctx, sessionID, userID)
	} else {
		sess, err = h.sessions.Get(ctx, sessionID)
		if errors.Is(err, ErrNoSession) {
			return Session{}, newSessionError(req.ID, "unknown session", ReasonSessionNotFound), http.StatusBadRequest
		}
	}
	if err != nil {
		h.log.Error("session store failure", "session_id", sessionID, "error", err)
		return Session{}, newError(req.ID, CodeInternalError, "session store failure", nil), http.StatusInternalServerError
	}

	if authCtx != nil && sess.Token == "" {
		if err := h.sessions.SetAuth(ctx, sess.ID, authCtx.UserID, authCtx.Token, authCtx.Scopes); err != nil {
			h.log.Error("bind auth to session failed", "session_id", sess.ID, "error", err)
			return Session{}, newError(req.ID, CodeInternalError, "session store failure", nil), http.StatusInternalServerError
		}
		sess, err = h.sessions.Get(ctx, sess.ID)
		if err != nil {
			return Session{}, newError(req.ID, CodeInternalError, "session store failure", nil), http.StatusInternalServerError
		}
	}
	return sess, nil, 0
}

// handleNotification acknowledges client notifications, forwarding
// them to the selected device on a best-effort basis.
func (h *Handler) handleNotification(ctx context.Context, sess Session, req Request) {
	if req.Method == "notifications/initialized" || sess.DeviceID == "" {
		return
	}
	if err := h.devices.Notify(ctx, sess.DeviceID, sess.DeviceSessionID, sess.UserID, sess.ID, req.Method, req.Params); err != nil {
		h.log.Warn("forward notification failed",
			"session_id", sess.ID, "device_id", sess.DeviceID,
			"method", req.Method, "error", err)
	}
}

// handleToolsList returns the union of gateway tools and the selected
// device's catalog. A listing timeout degrades to gateway tools only;
// any other device failure is an error.
func (h *Handler) handleToolsList(ctx context.Context, sess Session, id json.RawMessage) (*Response, int) {
	tools := append([]Tool(nil), gatewayTools...)

	if sess.DeviceID != "" {
		raw, err := h.devices.ListTools(ctx, sess.DeviceID, sess.DeviceSessionID, sess.UserID, sess.ID)
		switch {
		case errors.Is(err, device.ErrTimeout):
			h.log.Warn("device tool listing timed out, serving gateway tools only",
				"session_id", sess.ID, "device_id", sess.DeviceID)
		case err != nil:
			return h.mapDeviceError(sess, id, err)
		default:
			var listed toolsListResult
			if err := json.Unmarshal(raw, &listed); err != nil {
				return newSessionError(id, "device returned a malformed tool catalog", ReasonMalformedResponse), http.StatusBadGateway
			}
			seen := make(map[string]bool, len(tools))
			for _, t := range tools {
				seen[t.Name] = true
			}
			for _, t := range listed.Tools {
				if seen[t.Name] {
					return newSessionError(id, fmt.Sprintf("tool name collision: %s", t.Name), ReasonToolCollision), http.StatusInternalServerError
				}
				seen[t.Name] = true
				tools = append(tools, t)
			}
		}
	}

	return newResult(id, toolsListResult{Tools: tools}), http.StatusOK
}

func (h *Handler) handleToolCall(ctx context.Context, sess Session, req Request) (*Response, int) {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return newError(req.ID, CodeInvalidParams, "invalid tool call params", nil), http.StatusOK
	}

	switch params.Name {
	case toolDevicesList:
		return h.toolDevicesList(ctx, sess, req.ID)
	case toolDevicesSet:
		return h.toolDevicesSet(ctx, sess, req.ID, params.Arguments)
	}

	if sess.DeviceID == "" {
		return newSessionError(req.ID, "no device selected", ReasonNoDeviceSelected), http.StatusBadRequest
	}

	start := time.Now()
	resp, err := h.devices.CallTool(ctx, sess.DeviceID, sess.DeviceSessionID, sess.UserID, sess.ID, req.Params)
	if err != nil {
		out, status := h.mapDeviceError(sess, req.ID, err)
		h.recordCall(ctx, sess, params, "error", strconv.Itoa(out.Error.Code), out.Error.Message, start, 0)
		return out, status
	}

	if resp.Error != nil {
		// Device-side JSON-RPC errors pass through verbatim.
		h.recordCall(ctx, sess, params, "error", strconv.Itoa(resp.Error.Code), resp.Error.Message, start, 0)
		return &Response{JSONRPC: "2.0", ID: normalizeID(req.ID), Error: &RPCError{
			Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data,
		}}, http.StatusOK
	}

	h.recordCall(ctx, sess, params, "ok", "", "", start, len(resp.Result))
	return newRawResult(req.ID, resp.Result), http.StatusOK
}

func (h *Handler) toolDevicesList(ctx context.Context, sess Session, id json.RawMessage) (*Response, int) {
	start := time.Now()
	devices, err := h.registry.ListDevicesForUser(ctx, sess.UserID)
	if err != nil {
		h.log.Error("list devices failed", "session_id", sess.ID, "user_id", sess.UserID, "error", err)
		h.recordCall(ctx, sess, callToolParams{Name: toolDevicesList}, "error", strconv.Itoa(CodeInternalError), "registry failure", start, 0)
		return newError(id, CodeInternalError, "device registry failure", nil), http.StatusInternalServerError
	}

	type deviceEntry struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Selected bool   `json:"selected"`
	}
	entries := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, deviceEntry{ID: d.ID, Name: d.Name, Selected: d.ID == sess.DeviceID})
	}
	text, _ := json.Marshal(entries)

	h.recordCall(ctx, sess, callToolParams{Name: toolDevicesList}, "ok", "", "", start, len(text))
	return newResult(id, textResult(string(text))), http.StatusOK
}

func (h *Handler) toolDevicesSet(ctx context.Context, sess Session, id, arguments json.RawMessage) (*Response, int) {
	start := time.Now()
	params := callToolParams{Name: toolDevicesSet, Arguments: arguments}

	var args struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil || args.DeviceID == "" {
		return newError(id, CodeInvalidParams, "device_id is required", nil), http.StatusOK
	}
	if !store.ValidDeviceID(args.DeviceID) {
		h.recordCall(ctx, sess, params, "error", "invalid_device_id", "invalid device id", start, 0)
		return newResult(id, errorResult("invalid device id")), http.StatusOK
	}

	// Ownership check fails closed: a device that exists but belongs
	// to someone else looks identical to one that does not exist.
	if _, err := h.registry.GetDeviceForUser(ctx, args.DeviceID, sess.UserID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("device lookup failed", "session_id", sess.ID, "device_id", args.DeviceID, "error", err)
			h.recordCall(ctx, sess, params, "error", strconv.Itoa(CodeInternalError), "registry failure", start, 0)
			return newError(id, CodeInternalError, "device registry failure", nil), http.StatusInternalServerError
		}
		h.recordCall(ctx, sess, params, "error", "device_not_found", "device not found", start, 0)
		return newResult(id, errorResult("device not found")), http.StatusOK
	}

	deviceSessionID, err := h.devices.InitializeSession(ctx, args.DeviceID, sess.UserID, sess.ID)
	if err != nil {
		h.log.Warn("device initialize failed", "session_id", sess.ID, "device_id", args.DeviceID, "error", err)
		h.recordCall(ctx, sess, params, "error", "device_init_failed", err.Error(), start, 0)
		return newResult(id, errorResult(fmt.Sprintf("device unavailable: %v", err))), http.StatusOK
	}

	if err := h.sessions.SetDevice(ctx, sess.ID, args.DeviceID, deviceSessionID); err != nil {
		h.recordCall(ctx, sess, params, "error", strconv.Itoa(CodeInternalError), "session store failure", start, 0)
		return newError(id, CodeInternalError, "session store failure", nil), http.StatusInternalServerError
	}
	if err := h.registry.TouchDevice(ctx, args.DeviceID); err != nil {
		h.log.Warn("touch device failed", "device_id", args.DeviceID, "error", err)
	}

	h.recordCall(ctx, sess, params, "ok", "", "", start, 0)
	return newResult(id, textResult(fmt.Sprintf("device %s selected", args.DeviceID))), http.StatusOK
}

func (h *Handler) proxyToDevice(ctx context.Context, sess Session, req Request) (*Response, int) {
	resp, err := h.devices.Proxy(ctx, sess.DeviceID, sess.DeviceSessionID, sess.UserID, sess.ID, req.Method, req.Params)
	if err != nil {
		return h.mapDeviceError(sess, req.ID, err)
	}
	if resp.Error != nil {
		return &Response{JSONRPC: "2.0", ID: normalizeID(req.ID), Error: &RPCError{
			Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data,
		}}, http.StatusOK
	}
	return newRawResult(req.ID, resp.Result), http.StatusOK
}

// mapDeviceError converts transport failures into gateway errors with
// a reason and matching HTTP status.
func (h *Handler) mapDeviceError(sess Session, id json.RawMessage, err error) (*Response, int) {
	h.log.Warn("device request failed",
		"session_id", sess.ID, "device_id", sess.DeviceID, "error", err)

	var statusErr *device.StatusError
	switch {
	case errors.Is(err, device.ErrTimeout):
		return newSessionError(id, "device did not respond in time", ReasonDeviceTimeout), http.StatusGatewayTimeout
	case errors.Is(err, device.ErrNoResult):
		return newSessionError(id, "device stream ended without a response", ReasonMalformedResponse), http.StatusBadGateway
	case errors.As(err, &statusErr):
		return newSessionError(id, fmt.Sprintf("device returned status %d", statusErr.StatusCode), ReasonDeviceUnreachable), http.StatusBadGateway
	default:
		return newSessionError(id, "device unreachable", ReasonDeviceUnreachable), http.StatusBadGateway
	}
}

func (h *Handler) recordCall(ctx context.Context, sess Session, params callToolParams, status, errCode, errMsg string, start time.Time, size int) {
	rec := &store.AuditRecord{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		DeviceID:       sess.DeviceID,
		ToolName:       params.Name,
		ParamsRedacted: params.Arguments,
		Status:         status,
		ErrorCode:      errCode,
		ErrorMessage:   errMsg,
		LatencyMs:      int(time.Since(start).Milliseconds()),
		ResponseSize:   size,
	}
	if err := h.audit.Record(ctx, rec); err != nil {
		h.log.Error("audit record failed", "session_id", sess.ID, "tool", params.Name, "error", err)
	}
}
