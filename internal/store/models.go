package store

import (
	"encoding/json"
	"time"
)

// ValidDeviceID accepts DNS-label-safe ids since the id becomes a
// tunnel subdomain. Hostnames compare case-insensitively, so both
// cases are allowed.
func ValidDeviceID(id string) bool {
	if len(id) == 0 || len(id) > 63 {
		return false
	}
	if id[0] == '-' || id[len(id)-1] == '-' {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// Device is one enrolled personal device reachable through the tunnel
// under its own subdomain.
type Device struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditRecord is a single tool-call audit entry.
type AuditRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	DeviceID       string          `json:"device_id,omitempty"`
	ToolName       string          `json:"tool_name"`
	ParamsRedacted json.RawMessage `json:"params_redacted,omitempty"`
	Status         string          `json:"status"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	LatencyMs      int             `json:"latency_ms"`
	ResponseSize   int             `json:"response_size"`
}

// AuditFilter specifies query parameters for listing audit records.
type AuditFilter struct {
	SessionID *string    `json:"session_id,omitempty"`
	UserID    *string    `json:"user_id,omitempty"`
	ToolName  *string    `json:"tool_name,omitempty"`
	Status    *string    `json:"status,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}
