package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/devgate/internal/store"
)

func (d *DB) InsertAuditRecord(ctx context.Context, r *store.AuditRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	params := "{}"
	if len(r.ParamsRedacted) > 0 {
		params = string(r.ParamsRedacted)
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, timestamp, session_id, user_id, device_id, tool_name,
			 params_redacted, status, error_code, error_message,
			 latency_ms, response_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Timestamp), r.SessionID, r.UserID, r.DeviceID,
		r.ToolName, params, r.Status, r.ErrorCode, r.ErrorMessage,
		r.LatencyMs, r.ResponseSize,
	)
	return err
}

func (d *DB) QueryAuditRecords(ctx context.Context, f store.AuditFilter) ([]store.AuditRecord, error) {
	query := `
		SELECT id, timestamp, session_id, user_id, device_id, tool_name,
		       params_redacted, status, error_code, error_message,
		       latency_ms, response_size
		FROM audit_records WHERE 1=1`
	var args []any

	if f.SessionID != nil {
		query += " AND session_id = ?"
		args = append(args, *f.SessionID)
	}
	if f.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *f.UserID)
	}
	if f.ToolName != nil {
		query += " AND tool_name = ?"
		args = append(args, *f.ToolName)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.After != nil {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		query += " AND timestamp < ?"
		args = append(args, formatTime(*f.Before))
	}

	query += " ORDER BY timestamp DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AuditRecord
	for rows.Next() {
		var r store.AuditRecord
		var ts, params string
		if err := rows.Scan(&r.ID, &ts, &r.SessionID, &r.UserID, &r.DeviceID,
			&r.ToolName, &params, &r.Status, &r.ErrorCode, &r.ErrorMessage,
			&r.LatencyMs, &r.ResponseSize); err != nil {
			return nil, err
		}
		r.Timestamp = parseTime(ts)
		r.ParamsRedacted = json.RawMessage(params)
		out = append(out, r)
	}
	return out, rows.Err()
}
