package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type PoolStats struct {
	TotalConns    int32  `json:"totalConns"`
	IdleConns     int32  `json:"idleConns"`
	AcquiredConns int32  `json:"acquiredConns"`
	MaxConns      int32  `json:"maxConns"`
	AcquireTime   string `json:"acquireTime"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		AcquireTime:   s.AcquireDuration().String(),
	}
}

type healthReport struct {
	Status            string    `json:"status"`
	Pool              PoolStats `json:"pool"`
	PendingMigrations *int      `json:"pendingMigrations,omitempty"`
}

// HealthHandler pings the database and reports pool usage. With a migrator
// it also reports how many migrations are not yet applied; a schema behind
// the binary is reported as degraded rather than unhealthy.
func HealthHandler(pool *pgxpool.Pool, m *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := healthReport{Status: "healthy", Pool: statsOf(pool)}
		if err := pool.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("database health check failed")
			report.Status = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		if m != nil {
			statuses, err := m.Status(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to read migration status")
				return c.JSON(http.StatusOK, report)
			}
			pendingCount := 0
			for _, s := range statuses {
				if !s.Applied {
					pendingCount++
				}
			}
			report.PendingMigrations = &pendingCount
			if pendingCount > 0 {
				report.Status = "degraded"
			}
		}
		return c.JSON(http.StatusOK, report)
	}
}
