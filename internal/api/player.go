package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/airwave/internal/candidate"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/streaming"
)

const (
	eventBufferSize   = 16
	keepAliveInterval = 15 * time.Second
)

// sessionManager defines what PlayerHandler needs from the stream manager
type sessionManager interface {
	Controller(ctx context.Context, stationID string, profile candidate.Profile) (*streaming.Controller, error)
}

// VolumeRequest is the body of PUT /stations/:id/volume
type VolumeRequest struct {
	Level *float64 `json:"level" binding:"required"`
}

// StatusResponse describes a station's listening session
type StatusResponse struct {
	StationID     string    `json:"station_id"`
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	URL           string    `json:"url,omitempty"`
	Attempt       int       `json:"attempt"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	Volume        float64   `json:"volume"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func statusResponse(ctrl *streaming.Controller) StatusResponse {
	snap := ctrl.Snapshot()
	return StatusResponse{
		StationID:     snap.StationID,
		SessionID:     snap.ID.String(),
		State:         snap.State,
		URL:           snap.CurrentURL,
		Attempt:       snap.AttemptCount,
		LastErrorKind: snap.LastErrorKind,
		Volume:        ctrl.Volume(),
		UpdatedAt:     snap.UpdatedAt,
	}
}

// PlayerHandler exposes per-station playback control
type PlayerHandler struct {
	manager sessionManager
}

// NewPlayerHandler creates a new player handler instance
func NewPlayerHandler(manager sessionManager) *PlayerHandler {
	return &PlayerHandler{manager: manager}
}

// controller resolves the station's controller, writing an error response
// when it cannot
func (h *PlayerHandler) controller(c *gin.Context) (*streaming.Controller, bool) {
	id, ok := parseStationID(c)
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	ctrl, err := h.manager.Controller(ctx, id.String(), requestProfile(c))
	if err != nil {
		writeControllerError(c, err)
		return nil, false
	}
	return ctrl, true
}

// requestProfile picks the capability profile from ?profile= or the User-Agent
func requestProfile(c *gin.Context) candidate.Profile {
	if p, err := candidate.ParseProfile(c.Query("profile")); err == nil && p != "" {
		return p
	}
	return candidate.DetectProfile(c.GetHeader("User-Agent"))
}

func writeControllerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, streaming.ErrUnknownStation):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Station not found",
		})
	case errors.Is(err, streaming.ErrManagerStopped), errors.Is(err, streaming.ErrDisposed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "Player is shutting down",
		})
	case errors.Is(err, streaming.ErrInvalidVolume):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_volume",
			Message: "Volume level must be between 0 and 1",
		})
	default:
		logger.Log.Error().Err(err).Str("path", c.FullPath()).Msg("Player request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "player_failed",
			Message: "Player request failed",
		})
	}
}

// Play handles POST /api/stations/:id/play
func (h *PlayerHandler) Play(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.Play(); err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse(ctrl))
}

// Stop handles POST /api/stations/:id/stop
func (h *PlayerHandler) Stop(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.Stop(); err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(ctrl))
}

// SetVolume handles PUT /api/stations/:id/volume
func (h *PlayerHandler) SetVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.SetVolume(*req.Level); err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(ctrl))
}

// Status handles GET /api/stations/:id/status
func (h *PlayerHandler) Status(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusResponse(ctrl))
}

// Events handles GET /api/stations/:id/events, streaming status changes and
// terminal errors as server-sent events until the client disconnects.
// Events are dropped for clients that fall more than a few behind.
func (h *PlayerHandler) Events(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	statuses := make(chan streaming.Status, eventBufferSize)
	failures := make(chan streaming.ErrorEvent, eventBufferSize)

	unsubscribeStatus := ctrl.SubscribeStatus(func(s streaming.Status) {
		select {
		case statuses <- s:
		default:
		}
	})
	defer unsubscribeStatus()
	unsubscribeError := ctrl.SubscribeError(func(e streaming.ErrorEvent) {
		select {
		case failures <- e:
		default:
		}
	})
	defer unsubscribeError()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	// the server write timeout would otherwise cut the stream
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("status", statusResponse(ctrl))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ctrl.Done():
			// released or cleaned up; the client reconnects to the replacement
			c.SSEvent("closed", gin.H{"station_id": ctrl.StationID()})
			return false
		case s := <-statuses:
			c.SSEvent("status", s)
			return true
		case e := <-failures:
			c.SSEvent("error", e)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// SetupPlayerRoutes registers playback control routes
func SetupPlayerRoutes(apiGroup *gin.RouterGroup, manager sessionManager) {
	handler := NewPlayerHandler(manager)

	apiGroup.POST("/stations/:id/play", handler.Play)
	apiGroup.POST("/stations/:id/stop", handler.Stop)
	apiGroup.PUT("/stations/:id/volume", handler.SetVolume)
	apiGroup.GET("/stations/:id/status", handler.Status)
	apiGroup.GET("/stations/:id/events", handler.Events)
}
