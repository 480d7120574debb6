package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relayforge/devgate/internal/store"
)

// Logger writes audit records with parameter redaction.
type Logger struct {
	store store.AuditStore
	log   *slog.Logger
}

// NewLogger creates an audit Logger backed by the given store.
func NewLogger(auditStore store.AuditStore, log *slog.Logger) *Logger {
	return &Logger{store: auditStore, log: log}
}

// Record redacts sensitive parameters and inserts the audit record.
// Audit failures are logged but never block the request path.
func (l *Logger) Record(ctx context.Context, rec *store.AuditRecord) error {
	if len(rec.ParamsRedacted) > 0 {
		rec.ParamsRedacted = Redact(rec.ParamsRedacted)
	}

	if err := l.store.InsertAuditRecord(ctx, rec); err != nil {
		l.log.Error("audit record insert failed",
			"session_id", rec.SessionID,
			"tool", rec.ToolName,
			"error", err,
		)
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
