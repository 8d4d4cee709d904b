// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/store/core"
)

type Controller struct {
	repo  core.Repository
	cache cache.Client
}

func NewController(repo core.Repository, c cache.Client) *Controller {
	return &Controller{repo: repo, cache: c}
}

// Live handles GET /healthz. Process-up only, no dependency checks.
func (c *Controller) Live(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz and pings both backing stores.
func (c *Controller) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "cache": "ok"}
	healthy := true

	if err := c.repo.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if err := c.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, status, map[string]any{"checks": checks})
}
