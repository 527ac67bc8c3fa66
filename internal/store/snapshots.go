package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Snapshots holds the in-progress copy of a station while it is not fully
// synchronized. A snapshot exists from the first checkpoint until the
// controller accepts the manifest.
type Snapshots struct {
	db *Database
}

// NewSnapshots creates a snapshot store on db.
func NewSnapshots(db *Database) *Snapshots {
	return &Snapshots{db: db}
}

// Get returns the snapshot for stationID, if any.
func (s *Snapshots) Get(ctx context.Context, stationID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT data FROM snapshots WHERE station_id = ?", stationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot %s: %w", stationID, err)
	}
	return data, true, nil
}

// Put stores or replaces the snapshot for stationID.
func (s *Snapshots) Put(ctx context.Context, stationID string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO snapshots (station_id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(station_id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		stationID, data)
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", stationID, err)
	}
	return nil
}

// Delete removes the snapshot for stationID. Deleting a missing snapshot is not an error.
func (s *Snapshots) Delete(ctx context.Context, stationID string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM snapshots WHERE station_id = ?", stationID); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", stationID, err)
	}
	return nil
}

// Pending lists the stations that still have a snapshot.
func (s *Snapshots) Pending(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT station_id FROM snapshots ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
