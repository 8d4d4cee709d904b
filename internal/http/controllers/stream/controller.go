// Package stream serves the media bytes behind a redeemed ticket.
package stream

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/ticket"
)

// Controller redeems a ticket and streams the underlying file with
// range support.
type Controller struct {
	tickets *ticket.Service
	rootDir string
}

func NewController(tickets *ticket.Service, rootDir string) *Controller {
	return &Controller{tickets: tickets, rootDir: rootDir}
}

// Serve handles GET /stream/{ticketID}?token=...
func (c *Controller) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("StreamController.Serve"))

	ticketID := chi.URLParam(r, "ticketID")
	token := r.URL.Query().Get("token")
	if ticketID == "" || token == "" {
		metrics.TicketVerifications.WithLabelValues("bad_request").Inc()
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("ticket id and token are required"))
		return
	}

	res, err := c.tickets.VerifyAndConsume(ctx, ticketID, token, helpers.ClientIP(r))
	if err != nil {
		c.writeVerifyError(w, log, ticketID, err)
		return
	}
	metrics.TicketVerifications.WithLabelValues("ok").Inc()

	path, err := c.mediaPath(res.FileRef)
	if err != nil {
		log.Error("file ref escapes media root", logger.TicketID(ticketID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrContentUnavailable)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Error("media file unavailable", logger.TicketID(ticketID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrContentUnavailable)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		helpers.WriteError(w, helpers.ErrContentUnavailable)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Remaining-Uses", strconv.Itoa(res.RemainingUses))
	http.ServeContent(w, r, filepath.Base(path), st.ModTime(), f)

	metrics.StreamRequestDuration.Observe(float64(time.Since(start).Milliseconds()))
}

func (c *Controller) writeVerifyError(w http.ResponseWriter, log *zap.Logger, ticketID string, err error) {
	// Every verification failure gets the same 403 shape, unknown ids
	// included, so probing cannot distinguish a missing ticket from a
	// revoked or forged one.
	var reason string
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, ticket.ErrBadSignature):
		reason = "invalid_signature"
	case errors.Is(err, ticket.ErrRevoked):
		reason = "ticket_revoked"
	case errors.Is(err, ticket.ErrExpired):
		reason = "ticket_expired"
	case errors.Is(err, ticket.ErrUsageExceeded):
		reason = "usage_exceeded"
	case errors.Is(err, ticket.ErrIPMismatch):
		reason = "ip_mismatch"
	case errors.Is(err, media.ErrContentUnavailable):
		metrics.TicketVerifications.WithLabelValues("content_unavailable").Inc()
		helpers.WriteError(w, helpers.ErrContentUnavailable)
		return
	default:
		metrics.TicketVerifications.WithLabelValues("error").Inc()
		log.Error("ticket verification error", logger.TicketID(ticketID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	metrics.TicketVerifications.WithLabelValues(reason).Inc()
	helpers.WriteError(w, helpers.ErrForbidden.WithDetail(reason))
}

// mediaPath joins the stored file reference with the media root and
// rejects references that escape it.
func (c *Controller) mediaPath(fileRef string) (string, error) {
	clean := filepath.Clean("/" + fileRef)
	full := filepath.Join(c.rootDir, clean)
	root := filepath.Clean(c.rootDir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return full, nil
}
