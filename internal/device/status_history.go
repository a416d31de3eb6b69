package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// StatusHistoryRepository defines persistence for device status history.
//
// Appends are best-effort: a failed history insert is logged as a
// warning and never fails the device_status request that produced it.
type StatusHistoryRepository interface {
	// Record appends a status history row.
	Record(ctx context.Context, record *StatusRecord) error

	// GetHistory returns recent history for a device, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StatusRecord, error)

	// Prune deletes history entries older than the given duration and
	// returns the number of rows removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteStatusHistoryRepository implements StatusHistoryRepository
// using SQLite, with inserts gated by the write policy.
type SQLiteStatusHistoryRepository struct {
	db     *sql.DB
	policy WritePolicy
}

// NewSQLiteStatusHistoryRepository creates a status history repository.
//
// Parameters:
//   - db: Open SQLite connection
//   - policy: Write authorisation hook (nil means allow all)
func NewSQLiteStatusHistoryRepository(db *sql.DB, policy WritePolicy) *SQLiteStatusHistoryRepository {
	if policy == nil {
		policy = AllowAll{}
	}
	return &SQLiteStatusHistoryRepository{db: db, policy: policy}
}

// Record appends a status history row.
func (r *SQLiteStatusHistoryRepository) Record(ctx context.Context, record *StatusRecord) error {
	if record == nil || record.DeviceID == "" {
		return ErrMissingDeviceID
	}

	if err := r.policy.AllowInsert(ctx, "device_status_history", record.DeviceID); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteDenied, err)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}
	if record.Status == "" {
		record.Status = StatusOnline
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_status_history
			(id, device_id, status, battery, wifi_rssi, uptime, free_heap, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.DeviceID,
		record.Status,
		record.Battery,
		record.WiFiRSSI,
		record.Uptime,
		record.FreeHeap,
		formatTime(record.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a device, newest first.
//
// Parameters:
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteStatusHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StatusRecord, error) {
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, status, battery, wifi_rssi, uptime, free_heap, recorded_at
		 FROM device_status_history
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	records := make([]StatusRecord, 0, limit)
	for rows.Next() {
		var record StatusRecord
		var battery sql.NullFloat64
		var wifiRSSI, uptime, freeHeap sql.NullInt64
		var recordedAt string

		if err := rows.Scan(&record.ID, &record.DeviceID, &record.Status,
			&battery, &wifiRSSI, &uptime, &freeHeap, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}

		if battery.Valid {
			record.Battery = &battery.Float64
		}
		if wifiRSSI.Valid {
			v := int(wifiRSSI.Int64)
			record.WiFiRSSI = &v
		}
		if uptime.Valid {
			record.Uptime = &uptime.Int64
		}
		if freeHeap.Valid {
			record.FreeHeap = &freeHeap.Int64
		}
		if record.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}

	return records, nil
}

// Prune deletes history entries older than the given duration.
func (r *SQLiteStatusHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_status_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting status history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}
