// Package db provides database connection management and repositories.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/airwave/internal/models"
)

// StationRepository handles database operations for stations
type StationRepository struct {
	db *DB
}

// NewStationRepository creates a new station repository
func NewStationRepository(db *DB) *StationRepository {
	return &StationRepository{db: db}
}

// Create inserts a new station into the database
func (r *StationRepository) Create(ctx context.Context, station *models.Station) error {
	normalizeStation(station)
	result := r.db.WithContext(ctx).Create(station)
	if result.Error != nil {
		return fmt.Errorf("failed to create station: %w", MapGormError(result.Error))
	}
	return nil
}

// GetByID retrieves a station by its UUID
func (r *StationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Station, error) {
	var station models.Station
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&station)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &station, nil
}

// GetByName retrieves a station by its unique name
func (r *StationRepository) GetByName(ctx context.Context, name string) (*models.Station, error) {
	var station models.Station
	result := r.db.WithContext(ctx).Where("name = ?", name).First(&station)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &station, nil
}

// List retrieves all stations ordered by name
func (r *StationRepository) List(ctx context.Context) ([]*models.Station, error) {
	var stations []*models.Station
	result := r.db.WithContext(ctx).Order("name ASC").Find(&stations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stations: %w", MapGormError(result.Error))
	}
	return stations, nil
}

// Update updates an existing station
func (r *StationRepository) Update(ctx context.Context, station *models.Station) error {
	normalizeStation(station)
	station.UpdatedAt = time.Now().UTC()

	// Select every column so cleared fields are written too
	result := r.db.WithContext(ctx).
		Where("id = ?", station.ID.String()).
		Select("name", "display_name", "stream_url", "segmented_url", "mirrors",
			"provider", "external_player_url", "updated_at").
		Updates(station)
	if result.Error != nil {
		return fmt.Errorf("failed to update station: %w", MapGormError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a station by its UUID
func (r *StationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&models.Station{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete station: %w", MapGormError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stations
func (r *StationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Station{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count stations: %w", MapGormError(err))
	}
	return n, nil
}

func normalizeStation(s *models.Station) {
	if s.Mirrors == nil {
		s.Mirrors = []string{}
	}
	if s.Provider == "" {
		s.Provider = models.ProviderAuto
	}
}
