package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus reports connection pool health for the /health endpoint.
type HealthStatus struct {
	Connected       bool          `json:"connected"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	PingLatency     time.Duration `json:"ping_latency_ns"`
}

// Health pings the database and returns pool statistics.
func Health(ctx context.Context, db *sql.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	stats := db.Stats()

	status := HealthStatus{
		Connected:       err == nil,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		PingLatency:     time.Since(start),
	}
	return status, err
}
