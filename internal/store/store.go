package store

import "context"

// Store is the composite interface for all data access.
type Store interface {
	DeviceStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}

// DeviceStore manages enrolled device records. Every lookup that hands a
// device to a caller is scoped by user id so ownership checks cannot be
// skipped by accident.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *Device) error
	GetDeviceForUser(ctx context.Context, deviceID, userID string) (*Device, error)
	ListDevicesForUser(ctx context.Context, userID string) ([]Device, error)
	DeleteDevice(ctx context.Context, deviceID, userID string) error
	TouchDevice(ctx context.Context, deviceID string) error
}

// AuditStore manages tool-call audit records.
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, r *AuditRecord) error
	QueryAuditRecords(ctx context.Context, f AuditFilter) ([]AuditRecord, error)
}
