// Package station manages the persisted catalog of radio stations and maps
// each one to the candidate source its session controller plays.
package station

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/db"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/models"
)

const maxNameLength = 64

// Input carries the user-editable station fields
type Input struct {
	Name              string
	DisplayName       string
	StreamURL         string
	SegmentedURL      string
	Mirrors           []string
	Provider          string
	ExternalPlayerURL string
}

// Service handles business logic for station operations
type Service struct {
	database   *db.DB
	repos      *db.Repositories
	tokenHosts []string
}

// NewService creates a new station service. tokenHosts lists the hosts whose
// stream URLs redirect to short-lived token URLs.
func NewService(database *db.DB, repos *db.Repositories, tokenHosts []string) *Service {
	return &Service{
		database:   database,
		repos:      repos,
		tokenHosts: tokenHosts,
	}
}

// Create validates and stores a new station
func (s *Service) Create(ctx context.Context, in Input) (*models.Station, error) {
	in = normalize(in)
	if err := validate(in); err != nil {
		logger.Log.Warn().Err(err).Str("name", in.Name).Msg("Station creation failed: invalid input")
		return nil, fmt.Errorf("failed to create station: %w", err)
	}
	if err := s.validateNameUniqueness(ctx, in.Name, uuid.Nil); err != nil {
		logger.Log.Warn().Str("name", in.Name).Msg("Station creation failed: duplicate name")
		return nil, fmt.Errorf("failed to create station: %w", err)
	}

	st := models.NewStation(in.Name, in.StreamURL)
	apply(st, in)

	if err := s.repos.Stations.Create(ctx, st); err != nil {
		if db.IsDuplicate(err) {
			return nil, fmt.Errorf("failed to create station: %w", ErrDuplicateName)
		}
		logger.Log.Error().Err(err).Str("name", in.Name).Msg("Failed to create station in database")
		return nil, fmt.Errorf("failed to create station: %w", err)
	}

	logger.Log.Info().
		Str("station_id", st.ID.String()).
		Str("name", st.Name).
		Str("provider", st.Provider).
		Msg("Station created successfully")

	return st, nil
}

// GetByID retrieves a station by its ID
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Station, error) {
	st, err := s.repos.Stations.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrStationNotFound
		}
		logger.Log.Error().Err(err).Str("station_id", id.String()).Msg("Failed to get station by ID")
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return st, nil
}

// GetByName retrieves a station by its unique name
func (s *Service) GetByName(ctx context.Context, name string) (*models.Station, error) {
	st, err := s.repos.Stations.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return st, nil
}

// List retrieves all stations ordered by name
func (s *Service) List(ctx context.Context) ([]*models.Station, error) {
	stations, err := s.repos.Stations.List(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to list stations")
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}

	logger.Log.Debug().Int("count", len(stations)).Msg("Listed stations")
	return stations, nil
}

// Update replaces a station's fields
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*models.Station, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in = normalize(in)
	if err := validate(in); err != nil {
		return nil, fmt.Errorf("failed to update station: %w", err)
	}
	if !strings.EqualFold(existing.Name, in.Name) {
		if err := s.validateNameUniqueness(ctx, in.Name, id); err != nil {
			logger.Log.Warn().Str("station_id", id.String()).Str("name", in.Name).Msg("Station update failed: duplicate name")
			return nil, fmt.Errorf("failed to update station: %w", err)
		}
	}

	existing.Name = in.Name
	apply(existing, in)

	if err := s.repos.Stations.Update(ctx, existing); err != nil {
		if db.IsNotFound(err) {
			return nil, ErrStationNotFound
		}
		if db.IsDuplicate(err) {
			return nil, fmt.Errorf("failed to update station: %w", ErrDuplicateName)
		}
		logger.Log.Error().Err(err).Str("station_id", id.String()).Msg("Failed to update station in database")
		return nil, fmt.Errorf("failed to update station: %w", err)
	}

	logger.Log.Info().Str("station_id", id.String()).Str("name", existing.Name).Msg("Station updated successfully")
	return existing, nil
}

// Delete removes a station by its ID
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Stations.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return ErrStationNotFound
		}
		logger.Log.Error().Err(err).Str("station_id", id.String()).Msg("Failed to delete station from database")
		return fmt.Errorf("failed to delete station: %w", err)
	}

	logger.Log.Info().Str("station_id", id.String()).Msg("Station deleted successfully")
	return nil
}

// EnsureDefault creates the configured default station, or brings an
// existing station of the same name in line with the configuration. It
// reports whether a new row was created.
func (s *Service) EnsureDefault(ctx context.Context, in Input) (*models.Station, bool, error) {
	in = normalize(in)
	if err := validate(in); err != nil {
		return nil, false, fmt.Errorf("invalid default station: %w", err)
	}

	var (
		st      *models.Station
		created bool
	)
	err := s.database.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing models.Station
		err := tx.Where("name = ?", in.Name).First(&existing).Error
		switch {
		case err == nil:
			apply(&existing, in)
			existing.UpdatedAt = time.Now().UTC()
			st = &existing
			return db.MapGormError(tx.Save(st).Error)
		case errors.Is(err, gorm.ErrRecordNotFound):
			st = models.NewStation(in.Name, in.StreamURL)
			apply(st, in)
			created = true
			return db.MapGormError(tx.Create(st).Error)
		default:
			return db.MapGormError(err)
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure default station: %w", err)
	}

	logger.Log.Info().
		Str("station_id", st.ID.String()).
		Str("name", st.Name).
		Bool("created", created).
		Msg("Default station ready")

	return st, created, nil
}

// TokenBearing reports whether the station's stream URL must be resolved
// through a redirect probe before playback
func (s *Service) TokenBearing(st *models.Station) bool {
	switch st.Provider {
	case models.ProviderToken:
		return true
	case models.ProviderStatic:
		return false
	default:
		return candidate.IsTokenProvider(st.StreamURL, s.tokenHosts)
	}
}

// Source maps a station to the candidate source its controller plays
func (s *Service) Source(st *models.Station) candidate.Source {
	return candidate.Source{
		StreamURL:    st.StreamURL,
		SegmentedURL: st.SegmentedURL,
		Mirrors:      append([]string(nil), st.Mirrors...),
		TokenBearing: s.TokenBearing(st),
	}
}

// validateNameUniqueness checks if a station name is unique (case-insensitive).
// excludeID skips the station being updated.
func (s *Service) validateNameUniqueness(ctx context.Context, name string, excludeID uuid.UUID) error {
	stations, err := s.repos.Stations.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to validate name uniqueness: %w", err)
	}

	for _, st := range stations {
		if st.ID == excludeID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(st.Name), name) {
			return ErrDuplicateName
		}
	}
	return nil
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.StreamURL = strings.TrimSpace(in.StreamURL)
	in.SegmentedURL = strings.TrimSpace(in.SegmentedURL)
	in.ExternalPlayerURL = strings.TrimSpace(in.ExternalPlayerURL)
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	if in.Provider == "" {
		in.Provider = models.ProviderAuto
	}

	mirrors := make([]string, 0, len(in.Mirrors))
	for _, m := range in.Mirrors {
		if m = strings.TrimSpace(m); m != "" {
			mirrors = append(mirrors, m)
		}
	}
	in.Mirrors = mirrors
	return in
}

func validate(in Input) error {
	if in.Name == "" || len(in.Name) > maxNameLength {
		return ErrInvalidName
	}
	switch in.Provider {
	case models.ProviderAuto, models.ProviderToken, models.ProviderStatic:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, in.Provider)
	}
	if in.StreamURL == "" {
		return fmt.Errorf("%w: stream url is required", ErrInvalidURL)
	}

	urls := append([]string{in.StreamURL}, in.Mirrors...)
	if in.SegmentedURL != "" {
		urls = append(urls, in.SegmentedURL)
	}
	if in.ExternalPlayerURL != "" {
		urls = append(urls, in.ExternalPlayerURL)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
		}
	}
	return nil
}

func apply(st *models.Station, in Input) {
	st.DisplayName = in.DisplayName
	st.StreamURL = in.StreamURL
	st.SegmentedURL = in.SegmentedURL
	st.Mirrors = in.Mirrors
	st.Provider = in.Provider
	st.ExternalPlayerURL = in.ExternalPlayerURL
}
