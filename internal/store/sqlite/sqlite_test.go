package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/relayforge/devgate/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDeviceCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dev := &store.Device{ID: "dev-1", UserID: "user-1", Name: "laptop"}
	if err := db.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if dev.CreatedAt.IsZero() || dev.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set on create")
	}

	got, err := db.GetDeviceForUser(ctx, "dev-1", "user-1")
	if err != nil {
		t.Fatalf("GetDeviceForUser: %v", err)
	}
	if got.Name != "laptop" || got.UserID != "user-1" {
		t.Errorf("unexpected device: %+v", got)
	}

	// Ownership check: wrong user does not see the device.
	if _, err := db.GetDeviceForUser(ctx, "dev-1", "user-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong user, got %v", err)
	}

	if err := db.CreateDevice(ctx, &store.Device{ID: "dev-1", UserID: "user-1"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on duplicate id, got %v", err)
	}

	if err := db.TouchDevice(ctx, "dev-1"); err != nil {
		t.Fatalf("TouchDevice: %v", err)
	}
	if err := db.TouchDevice(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound touching missing device, got %v", err)
	}

	if err := db.DeleteDevice(ctx, "dev-1", "user-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting as wrong user, got %v", err)
	}
	if err := db.DeleteDevice(ctx, "dev-1", "user-1"); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := db.GetDeviceForUser(ctx, "dev-1", "user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListDevicesForUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"dev-a", "dev-b"} {
		dev := &store.Device{
			ID:        id,
			UserID:    "user-1",
			Name:      id,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.CreateDevice(ctx, dev); err != nil {
			t.Fatalf("CreateDevice %s: %v", id, err)
		}
	}
	if err := db.CreateDevice(ctx, &store.Device{ID: "dev-c", UserID: "user-2"}); err != nil {
		t.Fatalf("CreateDevice dev-c: %v", err)
	}

	devs, err := db.ListDevicesForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListDevicesForUser: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devs))
	}
	if devs[0].ID != "dev-a" || devs[1].ID != "dev-b" {
		t.Errorf("expected creation order, got %s, %s", devs[0].ID, devs[1].ID)
	}

	empty, err := db.ListDevicesForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListDevicesForUser nobody: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no devices, got %d", len(empty))
	}
}

func TestAuditRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &store.AuditRecord{
		SessionID:      "sess-1",
		UserID:         "user-1",
		DeviceID:       "dev-1",
		ToolName:       "files_read",
		ParamsRedacted: json.RawMessage(`{"path":"/tmp/x"}`),
		Status:         "ok",
		LatencyMs:      42,
		ResponseSize:   128,
	}
	if err := db.InsertAuditRecord(ctx, rec); err != nil {
		t.Fatalf("InsertAuditRecord: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected generated record id")
	}

	failed := &store.AuditRecord{
		SessionID: "sess-1",
		UserID:    "user-1",
		ToolName:  "devices_set",
		Status:    "error",
		ErrorCode: "-32000",
	}
	if err := db.InsertAuditRecord(ctx, failed); err != nil {
		t.Fatalf("InsertAuditRecord failed record: %v", err)
	}

	sess := "sess-1"
	all, err := db.QueryAuditRecords(ctx, store.AuditFilter{SessionID: &sess})
	if err != nil {
		t.Fatalf("QueryAuditRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	status := "error"
	errs, err := db.QueryAuditRecords(ctx, store.AuditFilter{SessionID: &sess, Status: &status})
	if err != nil {
		t.Fatalf("QueryAuditRecords status filter: %v", err)
	}
	if len(errs) != 1 || errs[0].ToolName != "devices_set" {
		t.Errorf("unexpected filtered records: %+v", errs)
	}

	limited, err := db.QueryAuditRecords(ctx, store.AuditFilter{SessionID: &sess, Limit: 1})
	if err != nil {
		t.Fatalf("QueryAuditRecords limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 record with limit, got %d", len(limited))
	}
}
