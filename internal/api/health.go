package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status      string                 `json:"status"`
	Database    string                 `json:"database"`
	Controllers int                    `json:"controllers"`
	Time        string                 `json:"time"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// databaseChecker pings the catalog database
type databaseChecker interface {
	Health(ctx context.Context) error
}

// controllerCounter reports how many station controllers are live
type controllerCounter interface {
	Len() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db          databaseChecker
	controllers controllerCounter
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(database databaseChecker, controllers controllerCounter) *HealthHandler {
	return &HealthHandler{db: database, controllers: controllers}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Details: make(map[string]interface{}),
	}
	if h.controllers != nil {
		response.Controllers = h.controllers.Len()
	}

	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Database = "healthy"
	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, database databaseChecker, controllers controllerCounter) {
	handler := NewHealthHandler(database, controllers)
	apiGroup.GET("/health", handler.Check)
}
