package admin

import (
	"net/http"
	"time"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/ticket"
)

// AnalyticsController aggregates ticket activity for dashboards.
type AnalyticsController struct {
	tickets *ticket.Service
}

func NewAnalyticsController(t *ticket.Service) *AnalyticsController {
	return &AnalyticsController{tickets: t}
}

// Tickets handles GET /v1/admin/analytics/tickets?window=24h
func (c *AnalyticsController) Tickets(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid window"))
			return
		}
		window = d
	}

	stats, err := c.tickets.Analytics(r.Context(), window)
	if err != nil {
		logger.From(r.Context()).Error("ticket analytics failed", logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"window":           window.String(),
		"issued":           stats.Issued,
		"redeemed":         stats.Redeemed,
		"revoked":          stats.Revoked,
		"active_tickets":   stats.ActiveTickets,
		"denied_by_reason": stats.DeniedByReason,
	})
}
