// internal/handler/status_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	serialscan "serial2rudics/internal/discovery/serial"
	"serial2rudics/internal/utils"
)

// PortScanner lists serial ports on the host
type PortScanner interface {
	Scan(ctx context.Context) ([]serialscan.PortInfo, error)
}

// StatusHandler serves the supervisor snapshot and port listing
type StatusHandler struct {
	status  StatusProvider
	scanner PortScanner
	logger  *utils.ServiceLogger
}

// NewStatusHandler creates a new status handler. scanner may be nil.
func NewStatusHandler(status StatusProvider, scanner PortScanner, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		status:  status,
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "status-handler"),
	}
}

// RegisterRoutes registers status routes
func (h *StatusHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
	router.GET("/ports", h.ListPorts)
}

// GetStatus returns the supervisor snapshot
func (h *StatusHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Bridge status", h.status.Status())
}

// ListPorts lists the serial ports visible to the bridge
func (h *StatusHandler) ListPorts(c *gin.Context) {
	if h.scanner == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Port discovery disabled", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ports, err := h.scanner.Scan(ctx)
	if err != nil {
		h.logger.Error("Failed to scan serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}
