package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/playfleet/stationsync/internal/model"
)

// Repository stores stations and their upload and deletion queues.
type Repository struct {
	db *Database
}

// NewRepository creates a repository on db.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// SaveStation inserts or replaces a station.
func (r *Repository) SaveStation(ctx context.Context, s *model.Station) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode station %s: %w", s.ID, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO stations (id, name, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		s.ID, s.Name, string(data))
	if err != nil {
		return fmt.Errorf("failed to save station %s: %w", s.ID, err)
	}
	return nil
}

// Station loads one station.
func (r *Repository) Station(ctx context.Context, id string) (*model.Station, error) {
	var data string
	err := r.db.QueryRow(ctx, "SELECT data FROM stations WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load station %s: %w", id, err)
	}

	s, err := model.DecodeStation([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("station %s is corrupt: %w", id, err)
	}
	return s, nil
}

// Stations loads every station ordered by name.
func (r *Repository) Stations(ctx context.Context) ([]*model.Station, error) {
	rows, err := r.db.Query(ctx, "SELECT data FROM stations ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	defer rows.Close()

	var stations []*model.Station
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		s, err := model.DecodeStation([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("corrupt station row: %w", err)
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// DeleteStation removes a station with its queues.
func (r *Repository) DeleteStation(ctx context.Context, id string) error {
	res, err := r.db.Exec(ctx, "DELETE FROM stations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete station %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	return nil
}

// Players returns the players of every station.
func (r *Repository) Players(ctx context.Context) ([]model.Player, error) {
	stations, err := r.Stations(ctx)
	if err != nil {
		return nil, err
	}
	var players []model.Player
	for _, s := range stations {
		players = append(players, s.Players...)
	}
	return players, nil
}

// PlayerByAddress finds a player and its station by network address.
func (r *Repository) PlayerByAddress(ctx context.Context, addr string) (model.Player, string, error) {
	stations, err := r.Stations(ctx)
	if err != nil {
		return model.Player{}, "", err
	}
	for _, s := range stations {
		for _, p := range s.Players {
			if p.Address == addr {
				return p, s.ID, nil
			}
		}
	}
	return model.Player{}, "", fmt.Errorf("%w: %s", ErrPlayerNotFound, addr)
}

// AddCachedMedia queues a local file for upload.
func (r *Repository) AddCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO cached_media (station_id, content_id, player_id, extension) VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, content_id) DO UPDATE SET player_id = excluded.player_id, extension = excluded.extension`,
		stationID, m.ContentID, m.PlayerID, m.Extension)
	if err != nil {
		return fmt.Errorf("failed to cache media %s: %w", m.ContentID, err)
	}
	return nil
}

// CachedMedia returns the upload queue of a station in insertion order.
func (r *Repository) CachedMedia(ctx context.Context, stationID string) ([]model.CachedMedia, error) {
	rows, err := r.db.Query(ctx,
		"SELECT content_id, player_id, extension FROM cached_media WHERE station_id = ? ORDER BY seq", stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached media: %w", err)
	}
	defer rows.Close()

	var out []model.CachedMedia
	for rows.Next() {
		var m model.CachedMedia
		if err := rows.Scan(&m.ContentID, &m.PlayerID, &m.Extension); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RemoveCachedMedia drops an upload queue entry.
func (r *Repository) RemoveCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM cached_media WHERE station_id = ? AND content_id = ?", stationID, m.ContentID)
	if err != nil {
		return fmt.Errorf("failed to remove cached media %s: %w", m.ContentID, err)
	}
	return nil
}

// AddPendingDeletion queues a remote media id for deletion.
func (r *Repository) AddPendingDeletion(ctx context.Context, stationID string, d model.PendingDeletion) error {
	_, err := r.db.Exec(ctx,
		"INSERT OR IGNORE INTO pending_deletions (station_id, player_id, media_id) VALUES (?, ?, ?)",
		stationID, d.PlayerID, d.MediaID)
	if err != nil {
		return fmt.Errorf("failed to queue deletion of media %d: %w", d.MediaID, err)
	}
	return nil
}

// PendingDeletions returns the deletion queue of a station in insertion order.
func (r *Repository) PendingDeletions(ctx context.Context, stationID string) ([]model.PendingDeletion, error) {
	rows, err := r.db.Query(ctx,
		"SELECT player_id, media_id FROM pending_deletions WHERE station_id = ? ORDER BY seq", stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	defer rows.Close()

	var out []model.PendingDeletion
	for rows.Next() {
		var d model.PendingDeletion
		if err := rows.Scan(&d.PlayerID, &d.MediaID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RemovePendingDeletion drops a deletion queue entry.
func (r *Repository) RemovePendingDeletion(ctx context.Context, stationID string, d model.PendingDeletion) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM pending_deletions WHERE station_id = ? AND player_id = ? AND media_id = ?",
		stationID, d.PlayerID, d.MediaID)
	if err != nil {
		return fmt.Errorf("failed to remove pending deletion of media %d: %w", d.MediaID, err)
	}
	return nil
}
