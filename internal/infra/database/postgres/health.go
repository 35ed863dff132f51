package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/3-stardust-7/JarNox/internal/infra/database"
)

// Health checks the health of the database connection
func (p *Pool) Health(ctx context.Context) *database.HealthStatus {
	start := time.Now()

	status := &database.HealthStatus{
		Status:    database.StatusHealthy,
		Driver:    "postgres",
		CheckedAt: start,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		status.Status = database.StatusUnhealthy
		status.Error = fmt.Sprintf("ping failed: %v", err)
		status.ResponseTime = time.Since(start).String()
		return status
	}

	stats := p.Stat()
	status.ResponseTime = time.Since(start).String()
	status.Details = map[string]interface{}{
		"active_conns": stats.AcquiredConns(),
		"idle_conns":   stats.IdleConns(),
		"total_conns":  stats.TotalConns(),
		"max_conns":    stats.MaxConns(),
	}

	// Check if connection pool is nearly exhausted
	if stats.MaxConns() > 2 && stats.AcquiredConns() >= stats.MaxConns()-2 {
		status.Status = database.StatusDegraded
		status.Error = "connection pool nearly exhausted"
	}

	return status
}
