// internal/routes/routes_test.go
package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/config"
	serialscan "serial2rudics/internal/discovery/serial"
	"serial2rudics/internal/handler"
	"serial2rudics/internal/model"
)

type staticStatus struct{}

func (staticStatus) Status() bridge.Status {
	return bridge.Status{State: model.StateDisconnected, Running: true}
}

type noPorts struct{}

func (noPorts) Scan(ctx context.Context) ([]serialscan.PortInfo, error) {
	return nil, nil
}

func newTestRouter(origins ...string) http.Handler {
	cfg := &config.Config{
		Status: config.StatusConfig{Listen: "127.0.0.1:0", AllowedOrigins: origins},
	}
	logger := zap.NewNop()
	ws := handler.NewWebSocketHandler(handler.NewEventBus(logger), staticStatus{}, logger)
	return NewRouter(cfg, logger, "test", staticStatus{}, noPorts{}, ws).SetupRouter()
}

func TestRoutesRegistered(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/live", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/api/v1/status", http.StatusOK},
		{"/api/v1/ports", http.StatusOK},
		{"/api/v1/devices", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, recorder.Code)
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	router := newTestRouter()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))

	request := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	request.Header.Set("X-Request-ID", "abc-123")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, "abc-123", recorder.Header().Get("X-Request-ID"))
	assert.Contains(t, recorder.Body.String(), `"request_id":"abc-123"`)
}

func TestCORSAllowedOrigins(t *testing.T) {
	router := newTestRouter("http://ops.example")

	request := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	request.Header.Set("Origin", "http://ops.example")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "http://ops.example", recorder.Header().Get("Access-Control-Allow-Origin"))

	request = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	request.Header.Set("Origin", "http://elsewhere.example")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRecoveryFromPanic(t *testing.T) {
	router := NewRouter(&config.Config{}, zap.NewNop(), "test", staticStatus{}, nil, nil).SetupRouter()
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}
