package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/internal/manager"
)

type fakeStatusProvider struct {
	statuses []manager.Status
}

func (f *fakeStatusProvider) GetStatuses() []manager.Status { return f.statuses }

func TestHealthEndpointReportsOK(t *testing.T) {
	s := NewServer(ServerOptions{Port: 0})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpointReturnsManagerStatuses(t *testing.T) {
	fake := &fakeStatusProvider{statuses: []manager.Status{
		{Name: "linear", ToolCount: 3},
	}}
	s := NewServer(ServerOptions{Port: 0, Manager: fake})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	servers, ok := body["servers"].([]any)
	require.True(t, ok)
	require.Len(t, servers, 1)
	entry := servers[0].(map[string]any)
	assert.Equal(t, "linear", entry["Name"])
}

func TestStatusEndpointToleratesNilManager(t *testing.T) {
	s := NewServer(ServerOptions{Port: 0})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointAbsentWithoutProviders(t *testing.T) {
	s := NewServer(ServerOptions{Port: 0})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
