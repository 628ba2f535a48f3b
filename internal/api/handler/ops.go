// Package handler provides HTTP handlers for the navcore API.
package handler

import (
	"net/http"
	"time"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/provider/resilience"
)

// SessionCounter reports the number of live navigation sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// OpsHandler serves the liveness and readiness checks.
type OpsHandler struct {
	service   string
	version   string
	buildTime string
	registry  *resilience.Registry
	sessions  SessionCounter

	started time.Time
	now     func() time.Time
}

// NewOpsHandler creates an OpsHandler. registry and sessions may be nil.
func NewOpsHandler(service, version, buildTime string, registry *resilience.Registry, sessions SessionCounter) *OpsHandler {
	return &OpsHandler{
		service:   service,
		version:   version,
		buildTime: buildTime,
		registry:  registry,
		sessions:  sessions,
		started:   time.Now(),
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:        models.StatusOK,
		Service:       h.service,
		Version:       h.version,
		BuildTime:     h.buildTime,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Time:          models.Timestamp(now),
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any provider whose circuit is
// not closed degrades the service.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status:    models.StatusOK,
		Time:      models.Timestamp(h.now()),
		Providers: []models.Dependency{},
	}
	if h.sessions != nil {
		ready.ActiveSessions = h.sessions.ActiveSessions()
	}
	if h.registry != nil {
		for _, ph := range h.registry.Snapshot() {
			dep := dependency(ph)
			if dep.Status != models.StatusOK {
				ready.Status = models.StatusDegraded
			}
			ready.Providers = append(ready.Providers, dep)
		}
	}
	response.JSON(w, r, http.StatusOK, ready)
}

func dependency(ph resilience.Health) models.Dependency {
	dep := models.Dependency{
		Name:                ph.Name,
		Status:              models.StatusOK,
		Circuit:             ph.State.String(),
		Requests:            ph.Counts.Requests,
		ConsecutiveFailures: ph.Counts.ConsecutiveFailures,
		LastSuccessAt:       optionalTime(ph.LastSuccessAt),
		LastFailureAt:       optionalTime(ph.LastFailureAt),
		LastError:           ph.LastError,
	}
	if ph.HalfOpen() {
		dep.Status = models.StatusDegraded
	} else if !ph.Available() {
		dep.Status = models.StatusFail
	}
	return dep
}

func optionalTime(t time.Time) *models.Timestamp {
	if t.IsZero() {
		return nil
	}
	ts := models.Timestamp(t)
	return &ts
}
