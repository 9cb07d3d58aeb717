package db

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Checker describes a backing store for the health endpoint. A nil Ping
// always reports healthy.
type Checker struct {
	Backend string
	Ping    func(ctx context.Context) error
	Stats   func() interface{}
}

func PoolChecker(pool *pgxpool.Pool) Checker {
	return Checker{
		Backend: "postgres",
		Ping:    pool.Ping,
		Stats:   func() interface{} { return GetPoolStats(pool) },
	}
}

func SQLChecker(backend string, sqlDB *sql.DB) Checker {
	return Checker{
		Backend: backend,
		Ping:    sqlDB.PingContext,
		Stats: func() interface{} {
			st := sqlDB.Stats()
			return map[string]interface{}{
				"open_connections": st.OpenConnections,
				"in_use":           st.InUse,
				"idle":             st.Idle,
			}
		},
	}
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(ch Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"backend": ch.Backend}
		if ch.Stats != nil {
			body["pool"] = ch.Stats()
		}

		if ch.Ping != nil {
			if err := ch.Ping(ctx); err != nil {
				body["status"] = "unhealthy"
				body["error"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, body)
			}
		}

		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
