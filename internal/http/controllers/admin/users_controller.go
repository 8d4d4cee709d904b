package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/http/helpers"
	"github.com/streamgate/streamgate/internal/http/middlewares"
	"github.com/streamgate/streamgate/internal/observability/logger"
)

// UsersController manages role assignments and permission overrides.
type UsersController struct {
	access *access.Service
}

func NewUsersController(ac *access.Service) *UsersController {
	return &UsersController{access: ac}
}

// List handles GET /v1/admin/users?limit=&offset=
func (c *UsersController) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := c.access.ListUsers(r.Context(), limit, offset)
	if err != nil {
		logger.From(r.Context()).Error("list users failed", logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}

	type item struct {
		UserID    string `json:"user_id"`
		Role      string `json:"role"`
		UpdatedAt string `json:"updated_at"`
	}
	out := make([]item, 0, len(users))
	for _, u := range users {
		out = append(out, item{UserID: u.UserID, Role: u.Role, UpdatedAt: u.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")})
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"users": out})
}

// Permissions handles GET /v1/admin/users/{userID}/permissions
func (c *UsersController) Permissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	role, perms, err := c.access.GetUserPermissions(r.Context(), userID)
	if err != nil {
		logger.From(r.Context()).Error("resolve permissions failed", logger.UserID(userID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"role":        role,
		"permissions": perms,
	})
}

// UpdateRole handles PUT /v1/admin/users/{userID}/role
func (c *UsersController) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Role string `json:"role"`
	}
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}

	err := c.access.UpdateUserRole(r.Context(), userID, req.Role, middlewares.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, access.ErrInvalidRole) {
			helpers.WriteError(w, helpers.ErrBadRequest.WithDetail(err.Error()))
			return
		}
		logger.From(r.Context()).Error("role update failed", logger.UserID(userID), logger.Err(err))
		helpers.WriteError(w, helpers.ErrInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "role": req.Role})
}

// Grant handles POST /v1/admin/users/{userID}/permissions
func (c *UsersController) Grant(w http.ResponseWriter, r *http.Request) {
	c.upsertGrant(w, r, true)
}

// Revoke handles DELETE /v1/admin/users/{userID}/permissions
func (c *UsersController) Revoke(w http.ResponseWriter, r *http.Request) {
	c.upsertGrant(w, r, false)
}

func (c *UsersController) upsertGrant(w http.ResponseWriter, r *http.Request, grant bool) {
	userID := chi.URLParam(r, "userID")
	actor := middlewares.GetUserID(r.Context())

	var req struct {
		Permission string `json:"permission"`
	}
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, helpers.ErrInvalidJSON)
		return
	}

	var err error
	if grant {
		err = c.access.Grant(r.Context(), userID, req.Permission, actor)
	} else {
		err = c.access.Revoke(r.Context(), userID, req.Permission, actor)
	}
	if err != nil {
		helpers.WriteError(w, helpers.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"permission": req.Permission,
		"granted":    grant,
	})
}
