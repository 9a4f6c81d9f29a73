// internal/handler/helpers_test.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"serial2rudics/internal/bridge"
	serialscan "serial2rudics/internal/discovery/serial"
	"serial2rudics/internal/model"
	"serial2rudics/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatus struct {
	mutex  sync.Mutex
	status bridge.Status
}

func (f *fakeStatus) Status() bridge.Status {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.status
}

func connectedStatus() *fakeStatus {
	return &fakeStatus{status: bridge.Status{
		State:     model.StateConnected,
		Running:   true,
		SessionID: "5f0c6f2e-4c1b-4f7a-9b1e-2f3c4d5e6f70",
		Sessions:  1,
		Serial:    &protocol.ProtocolStats{IsConnected: true, BytesRead: 12, BytesWritten: 34},
	}}
}

type fakeScanner struct {
	ports []serialscan.PortInfo
	err   error
}

func (f *fakeScanner) Scan(ctx context.Context) ([]serialscan.PortInfo, error) {
	return f.ports, f.err
}

func perform(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(recorder, request)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return recorder, body
}
