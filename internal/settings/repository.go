package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotInitialised is returned when the singleton row is missing,
// which means migrations have not run.
var ErrNotInitialised = errors.New("settings: protocol settings row missing")

// singletonID is the fixed primary key of the protocol settings row.
const singletonID = 1

// Repository defines access to the protocol settings singleton.
//
// Get is called on every bridge request (read-mostly, never cached);
// Save replaces the whole document with no optimistic concurrency
// control. Concurrent writers race and the last write wins.
type Repository interface {
	// Get reads and parses the current settings document.
	Get(ctx context.Context) (*Settings, error)

	// Save replaces the settings document wholesale.
	Save(ctx context.Context, s *Settings) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a settings repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get reads the settings document fresh from the singleton row.
func (r *SQLiteRepository) Get(ctx context.Context) (*Settings, error) {
	var document string
	err := r.db.QueryRowContext(ctx,
		"SELECT settings FROM protocol_settings WHERE id = ?", singletonID,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotInitialised
	}
	if err != nil {
		return nil, fmt.Errorf("querying protocol settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal([]byte(document), &s); err != nil {
		return nil, fmt.Errorf("parsing protocol settings: %w", err)
	}
	return &s, nil
}

// Save replaces the settings document. Last writer wins.
func (r *SQLiteRepository) Save(ctx context.Context, s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings: nil document")
	}

	document, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling protocol settings: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE protocol_settings SET settings = ?, updated_at = ? WHERE id = ?",
		string(document),
		time.Now().UTC().Format(time.RFC3339),
		singletonID,
	)
	if err != nil {
		return fmt.Errorf("saving protocol settings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotInitialised
	}
	return nil
}
