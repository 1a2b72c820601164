package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout は各依存先の疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthCheck は依存先の疎通確認を表す。
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewHealthHandler は依存先をすべて確認し、1つでも失敗すれば503を返すハンドラーを生成する。
// GET /health
func NewHealthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		statusCode := http.StatusOK

		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.Check(ctx)
			cancel()

			if err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", c.Name),
					slog.String("error", err.Error()),
				)
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "unavailable"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}

		writeJSON(w, statusCode, resp)
	}
}
