package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// EventsController exposes the security event trail.
type EventsController struct {
	access *access.Service
}

func NewEventsController(ac *access.Service) *EventsController {
	return &EventsController{access: ac}
}

// List handles GET /v1/admin/security-events with optional filters:
// type, user_id, ip, min_severity, since (RFC3339 or duration), limit.
func (c *EventsController) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := core.EventFilter{
		EventType: q.Get("type"),
		UserID:    q.Get("user_id"),
		ClientIP:  q.Get("ip"),
	}
	if s := q.Get("min_severity"); s != "" {
		f.MinSeverity = core.Severity(s)
	}
	if s := q.Get("since"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			f.Since = time.Now().UTC().Add(-d)
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		} else {
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid since"))
			return
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid limit"))
			return
		}
		f.Limit = n
	}

	events, err := c.access.AuditLog(r.Context(), f)
	if err != nil {
		logger.From(r.Context()).Error("security event query failed", logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}

	type item struct {
		ID        int64          `json:"id"`
		Type      string         `json:"type"`
		Severity  string         `json:"severity"`
		UserID    string         `json:"user_id,omitempty"`
		ClientIP  string         `json:"client_ip,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
		CreatedAt time.Time      `json:"created_at"`
	}
	out := make([]item, 0, len(events))
	for _, e := range events {
		out = append(out, item{
			ID:        e.ID,
			Type:      e.EventType,
			Severity:  string(e.Severity),
			UserID:    e.UserID,
			ClientIP:  e.ClientIP,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}
