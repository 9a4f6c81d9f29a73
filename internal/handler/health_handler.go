// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/model"
	"serial2rudics/internal/utils"
)

// StatusProvider exposes the supervisor snapshot
type StatusProvider interface {
	Status() bridge.Status
}

// HealthHandler handles health check requests
type HealthHandler struct {
	status    StatusProvider
	version   string
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status StatusProvider, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		status:    status,
		version:   version,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports the serial line and dockserver link. The bridge is
// healthy while the supervisor runs; a dockserver outage is degraded, not
// unhealthy, since reconnecting is normal operation.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.status.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   "serial2rudics",
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if !status.Running {
		health.Status = "unhealthy"
		health.Checks["supervisor"] = CheckResult{Status: "unhealthy", Message: "supervisor is not running"}
	} else {
		health.Checks["supervisor"] = CheckResult{Status: "healthy"}
	}

	serialCheck := CheckResult{Status: "healthy"}
	if status.Serial != nil {
		serialCheck.Data = map[string]interface{}{
			"bytes_read":    status.Serial.BytesRead,
			"bytes_written": status.Serial.BytesWritten,
			"errors":        status.Serial.ErrorCount,
		}
		if !status.Serial.IsConnected {
			serialCheck.Status = "unhealthy"
			serialCheck.Message = "serial device is closed"
			health.Status = "unhealthy"
		}
	}
	health.Checks["serial"] = serialCheck

	dockserverCheck := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"state":                status.State,
			"consecutive_failures": status.ConsecutiveFailures,
			"sessions":             status.Sessions,
		},
	}
	if status.State != model.StateConnected {
		dockserverCheck.Status = "degraded"
		dockserverCheck.Message = status.LastError
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}
	health.Checks["dockserver"] = dockserverCheck

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck succeeds only while bytes can flow end to end
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	status := h.status.Status()
	if status.State != model.StateConnected {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "dockserver not connected",
			"state":  status.State,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"session_id": status.SessionID,
		"timestamp":  time.Now(),
	})
}

// LivenessCheck succeeds whenever the process can respond
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
