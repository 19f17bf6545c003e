package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/models"
	"github.com/stwalsh4118/airwave/internal/station"
)

const requestTimeout = 5 * time.Second

// stationService defines the catalog operations StationHandler needs
type stationService interface {
	Create(ctx context.Context, in station.Input) (*models.Station, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Station, error)
	List(ctx context.Context) ([]*models.Station, error)
	Update(ctx context.Context, id uuid.UUID, in station.Input) (*models.Station, error)
	Delete(ctx context.Context, id uuid.UUID) error
	TokenBearing(st *models.Station) bool
}

// controllerReleaser disposes a station's live controller after the station
// changes, so the next play picks up the new configuration
type controllerReleaser interface {
	Release(stationID string) bool
}

// Request/Response DTOs

// StationRequest is the body of create and update requests
type StationRequest struct {
	Name              string   `json:"name" binding:"required,max=64"`
	DisplayName       string   `json:"display_name"`
	StreamURL         string   `json:"stream_url" binding:"required,url"`
	SegmentedURL      string   `json:"segmented_url" binding:"omitempty,url"`
	Mirrors           []string `json:"mirrors" binding:"omitempty,dive,url"`
	Provider          string   `json:"provider" binding:"omitempty,oneof=auto token static"`
	ExternalPlayerURL string   `json:"external_player_url" binding:"omitempty,url"`
}

func (r StationRequest) input() station.Input {
	return station.Input{
		Name:              r.Name,
		DisplayName:       r.DisplayName,
		StreamURL:         r.StreamURL,
		SegmentedURL:      r.SegmentedURL,
		Mirrors:           r.Mirrors,
		Provider:          r.Provider,
		ExternalPlayerURL: r.ExternalPlayerURL,
	}
}

// StationResponse represents a station in API responses
type StationResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	DisplayName       string    `json:"display_name"`
	StreamURL         string    `json:"stream_url"`
	SegmentedURL      string    `json:"segmented_url,omitempty"`
	Mirrors           []string  `json:"mirrors"`
	Provider          string    `json:"provider"`
	TokenBearing      bool      `json:"token_bearing"`
	ExternalPlayerURL string    `json:"external_player_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StationListResponse represents a list of stations
type StationListResponse struct {
	Stations []*StationResponse `json:"stations"`
}

// StationHandler handles station catalog requests
type StationHandler struct {
	stations    stationService
	controllers controllerReleaser
}

// NewStationHandler creates a new station handler instance
func NewStationHandler(stations stationService, controllers controllerReleaser) *StationHandler {
	return &StationHandler{stations: stations, controllers: controllers}
}

func (h *StationHandler) toResponse(st *models.Station) *StationResponse {
	mirrors := st.Mirrors
	if mirrors == nil {
		mirrors = []string{}
	}
	return &StationResponse{
		ID:                st.ID.String(),
		Name:              st.Name,
		DisplayName:       st.Label(),
		StreamURL:         st.StreamURL,
		SegmentedURL:      st.SegmentedURL,
		Mirrors:           mirrors,
		Provider:          st.Provider,
		TokenBearing:      h.stations.TokenBearing(st),
		ExternalPlayerURL: st.ExternalPlayerURL,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
	}
}

// CreateStation handles POST /api/stations
func (h *StationHandler) CreateStation(c *gin.Context) {
	var req StationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	st, err := h.stations.Create(ctx, req.input())
	if err != nil {
		h.writeServiceError(c, err, "create_failed", "Failed to create station")
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(st))
}

// ListStations handles GET /api/stations
func (h *StationHandler) ListStations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	stations, err := h.stations.List(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to list stations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve station list",
		})
		return
	}

	responses := make([]*StationResponse, len(stations))
	for i, st := range stations {
		responses[i] = h.toResponse(st)
	}

	c.JSON(http.StatusOK, StationListResponse{Stations: responses})
}

// GetStation handles GET /api/stations/:id
func (h *StationHandler) GetStation(c *gin.Context) {
	id, ok := parseStationID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	st, err := h.stations.GetByID(ctx, id)
	if err != nil {
		h.writeServiceError(c, err, "query_failed", "Failed to retrieve station")
		return
	}

	c.JSON(http.StatusOK, h.toResponse(st))
}

// UpdateStation handles PUT /api/stations/:id
func (h *StationHandler) UpdateStation(c *gin.Context) {
	id, ok := parseStationID(c)
	if !ok {
		return
	}

	var req StationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	st, err := h.stations.Update(ctx, id, req.input())
	if err != nil {
		h.writeServiceError(c, err, "update_failed", "Failed to update station")
		return
	}

	h.controllers.Release(id.String())
	c.JSON(http.StatusOK, h.toResponse(st))
}

// DeleteStation handles DELETE /api/stations/:id
func (h *StationHandler) DeleteStation(c *gin.Context) {
	id, ok := parseStationID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.stations.Delete(ctx, id); err != nil {
		h.writeServiceError(c, err, "delete_failed", "Failed to delete station")
		return
	}

	h.controllers.Release(id.String())
	c.JSON(http.StatusOK, DeleteResponse{Message: "Station deleted successfully"})
}

func (h *StationHandler) writeServiceError(c *gin.Context, err error, code, message string) {
	switch {
	case errors.Is(err, station.ErrStationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Station not found",
		})
	case errors.Is(err, station.ErrDuplicateName):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate_name",
			Message: "A station with this name already exists",
		})
	case station.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_station",
			Message: err.Error(),
		})
	default:
		logger.Log.Error().Err(err).Str("path", c.FullPath()).Msg(message)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   code,
			Message: message,
		})
	}
}

// parseStationID validates the :id path parameter, writing a 400 if invalid
func parseStationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid station ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// SetupStationRoutes registers station catalog routes
func SetupStationRoutes(apiGroup *gin.RouterGroup, stations stationService, controllers controllerReleaser) {
	handler := NewStationHandler(stations, controllers)

	apiGroup.POST("/stations", handler.CreateStation)
	apiGroup.GET("/stations", handler.ListStations)
	apiGroup.GET("/stations/:id", handler.GetStation)
	apiGroup.PUT("/stations/:id", handler.UpdateStation)
	apiGroup.DELETE("/stations/:id", handler.DeleteStation)
}
