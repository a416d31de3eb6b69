package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the telemetry schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'sensor',
			status TEXT NOT NULL DEFAULT 'offline',
			battery REAL,
			wifi_rssi INTEGER,
			uptime INTEGER,
			free_heap INTEGER,
			ota_update TEXT NOT NULL DEFAULT '',
			last_seen TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE sensor_readings (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			temperature REAL,
			humidity REAL,
			pressure REAL,
			battery REAL,
			sensor_data TEXT NOT NULL DEFAULT '{}',
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE device_status_history (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			status TEXT NOT NULL,
			battery REAL,
			wifi_rssi INTEGER,
			uptime INTEGER,
			free_heap INTEGER,
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`

	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsure_CreatesMissingDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dev, created, err := repo.Ensure(ctx, "esp32-greenhouse-01")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !created {
		t.Error("Ensure() created = false, want true for new device")
	}
	if dev.ID != "esp32-greenhouse-01" {
		t.Errorf("ID = %q, want esp32-greenhouse-01", dev.ID)
	}
	if dev.Type != DefaultDeviceType {
		t.Errorf("Type = %q, want %q", dev.Type, DefaultDeviceType)
	}
	if dev.Status != StatusOffline {
		t.Errorf("Status = %q, want %q", dev.Status, StatusOffline)
	}
}

func TestEnsure_ExistingDeviceUntouched(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if _, _, err := repo.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("first Ensure() error = %v", err)
	}

	dev, created, err := repo.Ensure(ctx, "dev-1")
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if created {
		t.Error("Ensure() created = true, want false for existing device")
	}
	if dev == nil {
		t.Fatal("Ensure() returned nil device")
	}
}

func TestEnsure_EmptyID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, _, err := repo.Ensure(context.Background(), "")
	if !errors.Is(err, ErrMissingDeviceID) {
		t.Errorf("Ensure(\"\") error = %v, want ErrMissingDeviceID", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestUpdateStatus_MissingDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.UpdateStatus(context.Background(), "ghost",
		StatusReport{Status: StatusOnline}, time.Now())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateStatus() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestUpdateStatus_AppliesReport(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if _, _, err := repo.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	battery := 87.5
	rssi := -62
	uptime := int64(3600)
	heap := int64(143220)
	ota := "1.4.2"
	seenAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	dev, err := repo.UpdateStatus(ctx, "dev-1", StatusReport{
		Status:    StatusOnline,
		Battery:   &battery,
		WiFiRSSI:  &rssi,
		Uptime:    &uptime,
		FreeHeap:  &heap,
		OTAUpdate: &ota,
	}, seenAt)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if dev.Status != StatusOnline {
		t.Errorf("Status = %q, want %q", dev.Status, StatusOnline)
	}
	if dev.Battery == nil || *dev.Battery != battery {
		t.Errorf("Battery = %v, want %v", dev.Battery, battery)
	}
	if dev.WiFiRSSI == nil || *dev.WiFiRSSI != rssi {
		t.Errorf("WiFiRSSI = %v, want %v", dev.WiFiRSSI, rssi)
	}
	if dev.OTAUpdate != ota {
		t.Errorf("OTAUpdate = %q, want %q", dev.OTAUpdate, ota)
	}
	if dev.LastSeen == nil || !dev.LastSeen.Equal(seenAt) {
		t.Errorf("LastSeen = %v, want %v", dev.LastSeen, seenAt)
	}
}

// TestUpdateStatus_SparseReportPreservesValues verifies that nil report
// fields leave previously stored health values untouched.
func TestUpdateStatus_SparseReportPreservesValues(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if _, _, err := repo.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	battery := 90.0
	if _, err := repo.UpdateStatus(ctx, "dev-1",
		StatusReport{Status: StatusOnline, Battery: &battery}, time.Now()); err != nil {
		t.Fatalf("first UpdateStatus() error = %v", err)
	}

	dev, err := repo.UpdateStatus(ctx, "dev-1",
		StatusReport{Status: StatusOnline}, time.Now())
	if err != nil {
		t.Fatalf("second UpdateStatus() error = %v", err)
	}

	if dev.Battery == nil || *dev.Battery != battery {
		t.Errorf("Battery = %v, want preserved %v", dev.Battery, battery)
	}
}

func TestList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, id := range []string{"dev-b", "dev-a"} {
		if _, _, err := repo.Ensure(ctx, id); err != nil {
			t.Fatalf("Ensure(%q) error = %v", id, err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].ID != "dev-a" || devices[1].ID != "dev-b" {
		t.Errorf("List() order = [%s, %s], want [dev-a, dev-b]", devices[0].ID, devices[1].ID)
	}
}
