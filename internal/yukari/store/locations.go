package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrLocationNotFound is returned by LocationDescription when no description
// has been stored for the zone.
var ErrLocationNotFound = errors.New("store: location description not found")

// SetLocationDescription stores or replaces the textual description for a zone.
func (s *Store) SetLocationDescription(ctx context.Context, zoneID int64, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_context (zone_id, description)
		VALUES (?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET description = excluded.description
	`, zoneID, description)
	if err != nil {
		return fmt.Errorf("failed to set location description: %w", err)
	}
	return nil
}

// LocationDescription returns the stored description for a zone, or
// ErrLocationNotFound when the zone has never been described.
func (s *Store) LocationDescription(ctx context.Context, zoneID int64) (string, error) {
	var description string
	err := s.db.QueryRowContext(ctx,
		"SELECT description FROM location_context WHERE zone_id = ?", zoneID,
	).Scan(&description)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrLocationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query location description: %w", err)
	}
	return description, nil
}
