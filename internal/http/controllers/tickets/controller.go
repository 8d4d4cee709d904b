// Package tickets exposes ticket issuance and revocation.
package tickets

import (
	"errors"
	"net/http"
	"time"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/http/middlewares"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/ticket"
)

// PermStream is required to mint a stream ticket.
const PermStream = "content:stream"

type Controller struct {
	tickets *ticket.Service
	access  *access.Service
}

func NewController(tickets *ticket.Service, ac *access.Service) *Controller {
	return &Controller{tickets: tickets, access: ac}
}

type createRequest struct {
	ContentType string     `json:"content_type"`
	ContentID   string     `json:"content_id"`
	Season      *int       `json:"season,omitempty"`
	Episode     *int       `json:"episode,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type createResponse struct {
	TicketID  string    `json:"ticket_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	StreamURL string    `json:"stream_url"`
	MaxUses   int       `json:"max_uses"`
}

// Create handles POST /v1/tickets.
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TicketsController.Create"))

	userID := middlewares.GetUserID(ctx)
	clientIP := helpers.ClientIP(r)

	if err := c.access.RequirePermission(ctx, userID, clientIP, PermStream); err != nil {
		if errors.Is(err, access.ErrPermissionDenied) {
			helpers.WriteError(w, helpers.ErrForbidden.WithPermission(PermStream))
			return
		}
		log.Error("permission check failed", logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}

	var req createRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}

	res, err := c.tickets.Create(ctx, ticket.CreateRequest{
		UserID:      userID,
		ContentType: core.ContentType(req.ContentType),
		ContentID:   req.ContentID,
		Season:      req.Season,
		Episode:     req.Episode,
		ClientIP:    clientIP,
		UserAgent:   r.UserAgent(),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalid):
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("invalid ticket request"))
		case errors.Is(err, media.ErrContentUnavailable):
			helpers.WriteError(w, helpers.ErrContentUnavailable)
		default:
			log.Error("ticket create failed", logger.Err(err))
			helpers.WriteError(w, helpers.ErrInternalServerError)
		}
		return
	}

	metrics.TicketsIssued.Inc()
	helpers.WriteJSON(w, http.StatusCreated, createResponse{
		TicketID:  res.TicketID,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		StreamURL: res.StreamURL,
		MaxUses:   res.MaxUses,
	})
}
