package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"cryptorafts/platform/internal/db"
	"cryptorafts/platform/internal/models/entities"
)

const healthProbeTimeout = 2 * time.Second

// HealthCheckHandler handles GET /healthCheck. redisClient may be nil when
// Redis is disabled.
func HealthCheckHandler(sqlDB *sqlx.DB, redisClient *redis.Client, upSince time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()

		services := make(map[string]entities.ServiceStatus)

		dbStatus := entities.ServiceStatus{Status: "ok", Details: sqlDB.DriverName() + " connected"}
		if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = entities.ServiceStatus{Status: "down", Details: err.Error()}
		}
		services["database"] = dbStatus

		var documents map[string]int64
		if dbStatus.Status == "ok" {
			if counts, err := db.CountDocuments(ctx, sqlDB); err == nil {
				documents = make(map[string]int64, len(counts))
				for _, c := range counts {
					documents[c.Collection] = c.Count
				}
			}
		}

		if redisClient != nil {
			redisStatus := entities.ServiceStatus{Status: "ok", Details: "Redis connected"}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				redisStatus = entities.ServiceStatus{Status: "down", Details: err.Error()}
			}
			services["redis"] = redisStatus
		}

		overallStatus := "ok"
		for _, svc := range services {
			if svc.Status != "ok" {
				overallStatus = "down"
				break
			}
		}

		resp := entities.HealthCheckResponse{
			Status:    overallStatus,
			Services:  services,
			Documents: documents,
			UpSince:   upSince,
			Uptime:    time.Since(upSince).Round(time.Second).String(),
		}
		code := http.StatusOK
		if overallStatus != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = sonic.ConfigStd.NewEncoder(w).Encode(resp)
	}
}
