package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/unitmon/internal/version"
)

// HealthStatus represents the overall health of the daemon.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status       HealthStatus `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	Uptime       string       `json:"uptime"`
	Version      string       `json:"version"`
	UnitsTracked int          `json:"units_tracked"`
	LastPoll     *time.Time   `json:"last_poll,omitempty"`
}

// healthHandler reports engine liveness. The daemon is degraded when the
// reconciliation poll has not completed within three intervals, which means
// the poll-based self-healing guarantee is currently not being met.
func (d *Daemon) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := d.performHealthCheck()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status != HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (d *Daemon) performHealthCheck() HealthResponse {
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startedAt).Round(time.Second).String(),
		Version:   version.Version,
	}

	eng := d.currentEngine()
	if eng == nil {
		resp.Status = HealthStatusDegraded
		return resp
	}
	resp.UnitsTracked = len(eng.Snapshot())

	lastPoll := eng.LastPoll()
	if !lastPoll.IsZero() {
		resp.LastPoll = &lastPoll
	}
	staleAfter := 3 * d.currentConfig().Monitoring.PollInterval()
	switch {
	case lastPoll.IsZero():
		// Startup grace: the first poll has one interval budget.
		if time.Since(d.startedAt) > staleAfter {
			resp.Status = HealthStatusDegraded
		}
	case time.Since(lastPoll) > staleAfter:
		resp.Status = HealthStatusDegraded
	}
	return resp
}
