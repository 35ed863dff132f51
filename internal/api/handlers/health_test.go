package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-stardust-7/JarNox/internal/infra/database"
)

func TestPing(t *testing.T) {
	rec := serve(newEngine(&fakeService{}, nil), http.MethodGet, "/ping")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		status string
		code   int
	}{
		{"healthy", database.StatusHealthy, http.StatusOK},
		{"degraded still serves", database.StatusDegraded, http.StatusOK},
		{"unhealthy", database.StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := fakeHealth{status: &database.HealthStatus{Status: tt.status}}
			rec := serve(newEngine(&fakeService{}, store), http.MethodGet, "/health/ready")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestDetailed(t *testing.T) {
	store := fakeHealth{status: &database.HealthStatus{
		Status:       database.StatusHealthy,
		Driver:       "sqlite",
		ResponseTime: "1ms",
		Details:      map[string]interface{}{"path": "data/stocks.db"},
	}}

	rec := serve(newEngine(&fakeService{}, store), http.MethodGet, "/api/health/detailed")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data DetailedHealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Data.Status)
	assert.Equal(t, "test", body.Data.Version)
	assert.Equal(t, "sqlite", body.Data.Components["database"].Driver)
}
