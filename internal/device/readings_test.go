package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

// denyTables is a WritePolicy that denies inserts to the named tables.
type denyTables map[string]bool

func (d denyTables) AllowInsert(_ context.Context, table string, _ string) error {
	if d[table] {
		return errors.New("row-level policy rejected insert")
	}
	return nil
}

func TestReadingInsertAndList(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	readings := NewSQLiteReadingRepository(db, nil)
	ctx := context.Background()

	if _, _, err := devices.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	temp := 21.5
	humidity := 48.0
	pressure := 1013.2
	reading := &SensorReading{
		DeviceID:    "dev-1",
		Temperature: &temp,
		Humidity:    &humidity,
		Pressure:    &pressure,
		Data: map[string]interface{}{
			"temperature":   21.5,
			"humidity":      48.0,
			"pressure":      1013.2,
			"soil_moisture": 0.31,
			"light_lux":     820.0,
		},
	}

	if err := readings.Insert(ctx, reading); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if reading.ID == "" {
		t.Error("Insert() should assign an ID")
	}

	got, err := readings.ListByDevice(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListByDevice() returned %d readings, want 1", len(got))
	}
	if got[0].Temperature == nil || *got[0].Temperature != temp {
		t.Errorf("Temperature = %v, want %v", got[0].Temperature, temp)
	}
	if got[0].Data["soil_moisture"] != 0.31 {
		t.Errorf("Data[soil_moisture] = %v, want 0.31", got[0].Data["soil_moisture"])
	}
}

func TestReadingInsert_UnknownDeviceViolatesFK(t *testing.T) {
	db := setupTestDB(t)
	readings := NewSQLiteReadingRepository(db, nil)

	err := readings.Insert(context.Background(), &SensorReading{DeviceID: "ghost"})
	if err == nil {
		t.Error("Insert() for unknown device should fail the foreign key")
	}
}

func TestReadingInsert_PolicyDenied(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	readings := NewSQLiteReadingRepository(db, denyTables{"sensor_readings": true})
	ctx := context.Background()

	if _, _, err := devices.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	err := readings.Insert(ctx, &SensorReading{DeviceID: "dev-1"})
	if !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Insert() error = %v, want ErrWriteDenied", err)
	}
}

func TestStatusHistoryRecordAndGet(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	history := NewSQLiteStatusHistoryRepository(db, nil)
	ctx := context.Background()

	if _, _, err := devices.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	battery := 75.0
	if err := history.Record(ctx, &StatusRecord{
		DeviceID: "dev-1",
		Status:   StatusOnline,
		Battery:  &battery,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	records, err := history.GetHistory(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("GetHistory() returned %d records, want 1", len(records))
	}
	if records[0].Status != StatusOnline {
		t.Errorf("Status = %q, want %q", records[0].Status, StatusOnline)
	}
	if records[0].Battery == nil || *records[0].Battery != battery {
		t.Errorf("Battery = %v, want %v", records[0].Battery, battery)
	}
}

// TestStatusHistory_PolicyDeniedIsIsolated verifies a denied history
// append reports ErrWriteDenied so callers can downgrade it to a
// warning without touching the primary write.
func TestStatusHistory_PolicyDeniedIsIsolated(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	history := NewSQLiteStatusHistoryRepository(db, denyTables{"device_status_history": true})
	ctx := context.Background()

	if _, _, err := devices.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	err := history.Record(ctx, &StatusRecord{DeviceID: "dev-1", Status: StatusOnline})
	if !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Record() error = %v, want ErrWriteDenied", err)
	}

	// The device row must be unaffected by the denied append.
	if _, err := devices.UpdateStatus(ctx, "dev-1",
		StatusReport{Status: StatusOnline}, time.Now()); err != nil {
		t.Errorf("UpdateStatus() after denied append error = %v", err)
	}
}

func TestStatusHistoryPrune(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	history := NewSQLiteStatusHistoryRepository(db, nil)
	ctx := context.Background()

	if _, _, err := devices.Ensure(ctx, "dev-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	old := &StatusRecord{
		DeviceID:   "dev-1",
		Status:     StatusOnline,
		RecordedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &StatusRecord{DeviceID: "dev-1", Status: StatusOnline}
	for _, rec := range []*StatusRecord{old, fresh} {
		if err := history.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	pruned, err := history.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() removed %d rows, want 1", pruned)
	}
}
