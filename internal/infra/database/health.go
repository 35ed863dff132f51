package database

import "time"

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents database health status
type HealthStatus struct {
	Status       string                 `json:"status"`        // healthy, degraded, unhealthy
	Driver       string                 `json:"driver"`        // postgres, sqlite
	ResponseTime string                 `json:"response_time"` // e.g. "5ms"
	CheckedAt    time.Time              `json:"checked_at"`
	Details      map[string]interface{} `json:"details,omitempty"` // connection stats
	Error        string                 `json:"error,omitempty"`
}

// IsHealthy reports whether the store answered normally
func (s *HealthStatus) IsHealthy() bool {
	return s != nil && s.Status == StatusHealthy
}
