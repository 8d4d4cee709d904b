package admin

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/rate"
	"github.com/streamgate/streamgate/internal/store/core"
)

// BlacklistController manages the temporary IP deny list.
type BlacklistController struct {
	limiter *rate.Service
}

func NewBlacklistController(l *rate.Service) *BlacklistController {
	return &BlacklistController{limiter: l}
}

// List handles GET /v1/admin/blacklist
func (c *BlacklistController) List(w http.ResponseWriter, r *http.Request) {
	entries, err := c.limiter.ListBlacklist(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("list blacklist failed", logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}

	type item struct {
		IP        string    `json:"ip"`
		Reason    string    `json:"reason"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	out := make([]item, 0, len(entries))
	for _, e := range entries {
		out = append(out, item{IP: e.IP, Reason: e.Reason, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Add handles POST /v1/admin/blacklist
func (c *BlacklistController) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP       string `json:"ip"`
		Reason   string `json:"reason"`
		Duration string `json:"duration"`
	}
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}
	if net.ParseIP(req.IP) == nil {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid ip"))
		return
	}
	if req.Reason == "" {
		req.Reason = "manual blacklist"
	}
	dur := time.Hour
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid duration"))
			return
		}
		dur = d
	}

	if err := c.limiter.AddToBlacklist(r.Context(), req.IP, req.Reason, dur); err != nil {
		logger.From(r.Context()).Error("blacklist add failed", logger.String("ip", req.IP), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, map[string]any{
		"ip":         req.IP,
		"reason":     req.Reason,
		"expires_at": time.Now().UTC().Add(dur),
	})
}

// Remove handles DELETE /v1/admin/blacklist/{ip}
func (c *BlacklistController) Remove(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid ip"))
		return
	}

	if err := c.limiter.RemoveFromBlacklist(r.Context(), ip); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			helpers.WriteError(w, helpers.ErrNotFound.WithDetail("ip not blacklisted"))
			return
		}
		logger.From(r.Context()).Error("blacklist remove failed", logger.String("ip", ip), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"ip": ip, "removed": true})
}
