package monitoring

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// Health is the snapshot served by the health endpoint.
type Health struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Database   string `json:"database"`
	Generation string `json:"generation"`
}

// HealthChecker reports process liveness, database reachability, and
// generation-endpoint reachability.
type HealthChecker struct {
	db            *sql.DB
	generationURL string
	httpClient    *http.Client
	startedAt     time.Time
}

// NewHealthChecker builds a checker. db may be nil when no store is open;
// generationURL may be empty when no generation backend is configured.
func NewHealthChecker(db *sql.DB, generationURL string) *HealthChecker {
	return &HealthChecker{
		db:            db,
		generationURL: generationURL,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		startedAt:     time.Now(),
	}
}

// Check pings the database and the generation endpoint and assembles the
// snapshot. A failing probe degrades Status without erroring; callers map
// it to a status code.
func (h *HealthChecker) Check(ctx context.Context) Health {
	out := Health{
		Status:     "ok",
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		Database:   "ok",
		Generation: "ok",
	}

	if h.db == nil {
		out.Database = "unconfigured"
	} else if err := h.db.PingContext(ctx); err != nil {
		out.Status = "degraded"
		out.Database = err.Error()
	}

	if h.generationURL == "" {
		out.Generation = "unconfigured"
	} else if err := h.pingGeneration(ctx); err != nil {
		out.Status = "degraded"
		out.Generation = err.Error()
	}

	return out
}

// pingGeneration checks the endpoint is reachable. Any HTTP response counts
// as reachable; an unauthenticated 401 from the API still means the network
// path and the service are up.
func (h *HealthChecker) pingGeneration(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.generationURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
