package chi

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 3 * time.Second

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Scheduler *bool     `json:"scheduler_running,omitempty"`
}

// getHealth handles GET /health. The store ping decides the status code.
func getHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "healthy",
			Timestamp: d.Now().UTC(),
			Database:  "connected",
		}
		if d.Scheduler != nil {
			running := d.Scheduler.Status().Running
			resp.Scheduler = &running
		}

		status := http.StatusOK
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := d.Health.Ping(ctx); err != nil {
				d.Logger.Error().Err(err).Msg("health check: database unreachable")
				resp.Status = "unhealthy"
				resp.Database = "error"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}
