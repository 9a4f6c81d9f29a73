// internal/handler/health_handler_test.go
package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"serial2rudics/internal/model"
)

func healthRouter(status StatusProvider) *gin.Engine {
	router := gin.New()
	NewHealthHandler(status, "1.2.3", zap.NewNop()).RegisterRoutes(router.Group(""))
	return router
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(f *fakeStatus)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "connected",
			mutate:     func(f *fakeStatus) {},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "dockserver down is degraded",
			mutate: func(f *fakeStatus) {
				f.status.State = model.StateDisconnected
				f.status.LastError = "connection refused"
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "supervisor stopped",
			mutate:     func(f *fakeStatus) { f.status.Running = false },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "serial closed",
			mutate:     func(f *fakeStatus) { f.status.Serial.IsConnected = false },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := connectedStatus()
			tt.mutate(status)

			recorder, body := perform(t, healthRouter(status), "/health")
			assert.Equal(t, tt.wantCode, recorder.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "1.2.3", body["version"])
			assert.Contains(t, body["checks"], "dockserver")
		})
	}
}

func TestHealthCheckReportsLastError(t *testing.T) {
	status := connectedStatus()
	status.status.State = model.StateDisconnected
	status.status.LastError = "connection refused"

	_, body := perform(t, healthRouter(status), "/health")
	checks := body["checks"].(map[string]interface{})
	dockserver := checks["dockserver"].(map[string]interface{})
	assert.Equal(t, "degraded", dockserver["status"])
	assert.Equal(t, "connection refused", dockserver["message"])
}

func TestReadinessCheck(t *testing.T) {
	status := connectedStatus()
	router := healthRouter(status)

	recorder, body := perform(t, router, "/ready")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, status.status.SessionID, body["session_id"])

	status.mutex.Lock()
	status.status.State = model.StateConnecting
	status.mutex.Unlock()

	recorder, body = perform(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "CONNECTING", body["state"])
}

func TestLivenessCheck(t *testing.T) {
	status := connectedStatus()
	status.status.Running = false

	recorder, body := perform(t, healthRouter(status), "/live")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "alive", body["status"])
}
