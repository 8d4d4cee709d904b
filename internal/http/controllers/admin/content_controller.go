package admin

import (
	"net/http"

	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

// ContentController maintains the content library mapping.
type ContentController struct {
	repo     core.Repository
	resolver *media.Resolver
}

func NewContentController(repo core.Repository, resolver *media.Resolver) *ContentController {
	return &ContentController{repo: repo, resolver: resolver}
}

// Upsert handles PUT /v1/admin/content. Registering a coordinate again
// replaces its file reference and drops the cached resolution.
func (c *ContentController) Upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentType string `json:"content_type"`
		ContentID   string `json:"content_id"`
		Season      *int   `json:"season,omitempty"`
		Episode     *int   `json:"episode,omitempty"`
		FileRef     string `json:"file_ref"`
		Available   *bool  `json:"available,omitempty"`
	}
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}

	ct := core.ContentType(req.ContentType)
	if ct != core.ContentMovie && ct != core.ContentEpisode {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("content_type must be movie or episode"))
		return
	}
	if req.ContentID == "" || req.FileRef == "" {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("content_id and file_ref are required"))
		return
	}
	if ct == core.ContentEpisode && (req.Season == nil || req.Episode == nil) {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail("episodes need season and episode"))
		return
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}

	err := c.repo.UpsertContentFile(r.Context(), &core.ContentFile{
		ContentType:   ct,
		ContentID:     req.ContentID,
		SeasonNumber:  req.Season,
		EpisodeNumber: req.Episode,
		FileRef:       req.FileRef,
		Available:     available,
	})
	if err != nil {
		logger.From(r.Context()).Error("content upsert failed", logger.ContentID(req.ContentID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	c.resolver.Invalidate(ct, req.ContentID, req.Season, req.Episode)

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"content_type": req.ContentType,
		"content_id":   req.ContentID,
		"file_ref":     req.FileRef,
		"available":    available,
	})
}
