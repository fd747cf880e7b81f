// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/d9705996/statusbridge/internal/api/jsonapi"
	"github.com/d9705996/statusbridge/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check is a named readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    []Check
	timeout   time.Duration
	startTime time.Time
}

// New creates a Handler. A check with a nil Pinger is not initialised yet
// and makes /ready return 503.
func New(checks ...Check) *Handler {
	return &Handler{checks: checks, timeout: 3 * time.Second, startTime: time.Now()}
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when every check passes; 503 otherwise.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	var failed []string
	for _, c := range h.checks {
		if c.Pinger == nil {
			results[c.Name] = "not initialised"
			failed = append(failed, c.Name+" is not initialised")
			continue
		}
		if err := c.Pinger.Ping(ctx); err != nil {
			results[c.Name] = err.Error()
			failed = append(failed, c.Name+" is unreachable: "+err.Error())
			continue
		}
		results[c.Name] = "ok"
	}

	if len(failed) > 0 {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			strings.Join(failed, "; "))
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: map[string]any{"status": "ok", "checks": results},
	})
}
