package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/ticket"
)

// TicketsController covers incident-response revocation.
type TicketsController struct {
	tickets *ticket.Service
}

func NewTicketsController(t *ticket.Service) *TicketsController {
	return &TicketsController{tickets: t}
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke handles POST /v1/admin/tickets/{ticketID}/revoke
func (c *TicketsController) Revoke(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	var req revokeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}
	if req.Reason == "" {
		req.Reason = "admin revocation"
	}

	if err := c.tickets.Revoke(r.Context(), ticketID, req.Reason); err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			helpers.WriteError(w, helpers.ErrNotFound)
			return
		}
		logger.From(r.Context()).Error("ticket revoke failed", logger.TicketID(ticketID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"ticket_id": ticketID, "revoked": true})
}

// RevokeUser handles POST /v1/admin/users/{userID}/tickets/revoke
func (c *TicketsController) RevokeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req revokeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}
	if req.Reason == "" {
		req.Reason = "admin revocation"
	}

	n, err := c.tickets.RevokeAllForUser(r.Context(), userID, req.Reason)
	if err != nil {
		logger.From(r.Context()).Error("bulk revoke failed", logger.UserID(userID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "revoked": n})
}
