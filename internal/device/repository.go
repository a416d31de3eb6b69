package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device registry persistence.
// The abstraction allows mock implementations for unit testing the
// ingest pipeline without a database.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by identifier.
	List(ctx context.Context) ([]Device, error)

	// Ensure fetches a device, creating a default registry entry if it
	// does not exist yet. Used by the MQTT ingress path where unknown
	// devices announce themselves. Reports whether a row was created.
	Ensure(ctx context.Context, id string) (dev *Device, created bool, err error)

	// UpdateStatus applies a status report to an existing device and
	// returns the updated row. Returns ErrDeviceNotFound when no row
	// matched; callers on the HTTP path surface that as a client error.
	UpdateStatus(ctx context.Context, id string, report StatusReport, seenAt time.Time) (*Device, error)

	// TouchLastSeen bumps last_seen without changing status fields.
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, type, status, battery, wifi_rssi, uptime,
	free_heap, ota_update, last_seen, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	if id == "" {
		return nil, ErrMissingDeviceID
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)

	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return dev, nil
}

// List retrieves all devices ordered by identifier.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Ensure fetches a device, creating a default entry when missing.
//
// The insert uses ON CONFLICT DO NOTHING so that two concurrent
// announcements of the same device race safely.
func (r *SQLiteRepository) Ensure(ctx context.Context, id string) (*Device, bool, error) {
	if id == "" {
		return nil, false, ErrMissingDeviceID
	}

	dev, err := r.GetByID(ctx, id)
	if err == nil {
		return dev, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, type, status)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, id, DefaultDeviceType, StatusOffline,
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating device: %w", err)
	}

	created, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking rows affected: %w", err)
	}

	dev, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return dev, created > 0, nil
}

// UpdateStatus applies a status report to an existing device.
//
// Nil report fields use COALESCE so a sparse report doesn't erase
// previously stored health values. Returns ErrDeviceNotFound when no
// row matched.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, report StatusReport, seenAt time.Time) (*Device, error) {
	if id == "" {
		return nil, ErrMissingDeviceID
	}

	status := report.Status
	if status == "" {
		status = StatusOnline
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET
			status = ?,
			battery = COALESCE(?, battery),
			wifi_rssi = COALESCE(?, wifi_rssi),
			uptime = COALESCE(?, uptime),
			free_heap = COALESCE(?, free_heap),
			ota_update = COALESCE(?, ota_update),
			last_seen = ?,
			updated_at = ?
		 WHERE id = ?`,
		status,
		report.Battery,
		report.WiFiRSSI,
		report.Uptime,
		report.FreeHeap,
		report.OTAUpdate,
		formatTime(seenAt),
		formatTime(seenAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrDeviceNotFound
	}

	return r.GetByID(ctx, id)
}

// TouchLastSeen bumps last_seen without changing status fields.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	if id == "" {
		return ErrMissingDeviceID
	}

	_, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?",
		formatTime(seenAt), formatTime(seenAt), id)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDevice reads one device row.
func scanDevice(row rowScanner) (*Device, error) {
	var dev Device
	var battery sql.NullFloat64
	var wifiRSSI, uptime, freeHeap sql.NullInt64
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&dev.ID, &dev.Name, &dev.Type, &dev.Status,
		&battery, &wifiRSSI, &uptime, &freeHeap,
		&dev.OTAUpdate, &lastSeen, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if battery.Valid {
		dev.Battery = &battery.Float64
	}
	if wifiRSSI.Valid {
		v := int(wifiRSSI.Int64)
		dev.WiFiRSSI = &v
	}
	if uptime.Valid {
		dev.Uptime = &uptime.Int64
	}
	if freeHeap.Valid {
		dev.FreeHeap = &freeHeap.Int64
	}

	if lastSeen.Valid && lastSeen.String != "" {
		t, err := parseTime(lastSeen.String)
		if err != nil {
			return nil, err
		}
		dev.LastSeen = &t
	}
	if dev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if dev.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &dev, nil
}

// formatTime renders a timestamp in the stored RFC3339 UTC form.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a timestamp stored in SQLite.
func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}
