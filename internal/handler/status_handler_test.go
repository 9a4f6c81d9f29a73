// internal/handler/status_handler_test.go
package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	serialscan "serial2rudics/internal/discovery/serial"
)

func statusRouter(status StatusProvider, scanner PortScanner) *gin.Engine {
	router := gin.New()
	NewStatusHandler(status, scanner, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestGetStatus(t *testing.T) {
	status := connectedStatus()
	status.status.ConnectAttempts = 3
	status.status.DiscardedBytes = 7

	recorder, body := perform(t, statusRouter(status, nil), "/api/v1/status")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "CONNECTED", data["state"])
	assert.Equal(t, float64(3), data["connect_attempts"])
	assert.Equal(t, float64(7), data["discarded_serial_bytes"])
	assert.Equal(t, status.status.SessionID, data["session_id"])
}

func TestListPorts(t *testing.T) {
	scanner := &fakeScanner{ports: []serialscan.PortInfo{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		{Name: "/dev/ttyS0"},
	}}

	recorder, body := perform(t, statusRouter(connectedStatus(), scanner), "/api/v1/ports")
	assert.Equal(t, http.StatusOK, recorder.Code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["ports_found"])
	ports := data["ports"].([]interface{})
	assert.Equal(t, "/dev/ttyUSB0", ports[0].(map[string]interface{})["name"])
}

func TestListPortsScanFailure(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("permission denied")}

	recorder, body := perform(t, statusRouter(connectedStatus(), scanner), "/api/v1/ports")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, false, body["success"])

	apiError := body["error"].(map[string]interface{})
	assert.Equal(t, "INTERNAL_SERVER_ERROR", apiError["code"])
	assert.Equal(t, "permission denied", apiError["details"])
}

func TestListPortsWithoutScanner(t *testing.T) {
	recorder, _ := perform(t, statusRouter(connectedStatus(), nil), "/api/v1/ports")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}
