package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultReadingLimit = 50
	maxReadingLimit     = 200
)

// ReadingRepository defines persistence for sensor readings.
type ReadingRepository interface {
	// Insert persists a reading. The primary write of the sensor_data
	// path; failure aborts the request.
	Insert(ctx context.Context, reading *SensorReading) error

	// ListByDevice returns recent readings for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]SensorReading, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
//
// Inserts pass through the write policy before touching the table.
type SQLiteReadingRepository struct {
	db     *sql.DB
	policy WritePolicy
}

// NewSQLiteReadingRepository creates a reading repository.
//
// Parameters:
//   - db: Open SQLite connection
//   - policy: Write authorisation hook (nil means allow all)
func NewSQLiteReadingRepository(db *sql.DB, policy WritePolicy) *SQLiteReadingRepository {
	if policy == nil {
		policy = AllowAll{}
	}
	return &SQLiteReadingRepository{db: db, policy: policy}
}

// Insert persists a sensor reading.
//
// Well-known scalars are stored in lifted columns alongside the full
// JSON document. A missing ID gets a generated UUID, a zero RecordedAt
// gets the current time (readings carry server-assigned timestamps).
func (r *SQLiteReadingRepository) Insert(ctx context.Context, reading *SensorReading) error {
	if reading == nil || reading.DeviceID == "" {
		return ErrMissingDeviceID
	}

	if err := r.policy.AllowInsert(ctx, "sensor_readings", reading.DeviceID); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteDenied, err)
	}

	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = time.Now()
	}
	if reading.Data == nil {
		reading.Data = map[string]interface{}{}
	}

	dataJSON, err := json.Marshal(reading.Data)
	if err != nil {
		return fmt.Errorf("marshalling sensor data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sensor_readings
			(id, device_id, temperature, humidity, pressure, battery, sensor_data, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.ID,
		reading.DeviceID,
		reading.Temperature,
		reading.Humidity,
		reading.Pressure,
		reading.Battery,
		string(dataJSON),
		formatTime(reading.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}

	return nil
}

// ListByDevice returns recent readings for a device, newest first.
//
// Parameters:
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteReadingRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]SensorReading, error) {
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	if limit <= 0 {
		limit = defaultReadingLimit
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, temperature, humidity, pressure, battery, sensor_data, recorded_at
		 FROM sensor_readings
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	defer rows.Close()

	readings := make([]SensorReading, 0, limit)
	for rows.Next() {
		var reading SensorReading
		var temperature, humidity, pressure, battery sql.NullFloat64
		var dataJSON, recordedAt string

		if err := rows.Scan(&reading.ID, &reading.DeviceID,
			&temperature, &humidity, &pressure, &battery,
			&dataJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning sensor reading: %w", err)
		}

		if temperature.Valid {
			reading.Temperature = &temperature.Float64
		}
		if humidity.Valid {
			reading.Humidity = &humidity.Float64
		}
		if pressure.Valid {
			reading.Pressure = &pressure.Float64
		}
		if battery.Valid {
			reading.Battery = &battery.Float64
		}
		if err := json.Unmarshal([]byte(dataJSON), &reading.Data); err != nil {
			return nil, fmt.Errorf("unmarshalling sensor data: %w", err)
		}
		if reading.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}

		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor readings: %w", err)
	}

	return readings, nil
}
