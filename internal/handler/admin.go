package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/service"
)

// AdminHandler serves the moderation endpoints. Every route sits behind
// Guard.Authenticate and Guard.RequireAdmin.
type AdminHandler struct {
	moderation *service.ModerationService
	logger     *slog.Logger
}

func NewAdminHandler(moderation *service.ModerationService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{moderation: moderation, logger: logger}
}

// ModerationResponse is returned by every moderation mutation.
type ModerationResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

type banRequest struct {
	Username string `json:"username"`
	Duration int    `json:"duration"` // hours, 0 = permanent
}

type usernameRequest struct {
	Username string `json:"username"`
}

type verifyRequest struct {
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

type makeAdminRequest struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// HTTP: POST /api/admin/ban-user {"username": "bob", "duration": 24}
func (h *AdminHandler) HandleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.moderation.Ban(r.Context(), req.Username, req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, "ban", user)
	writeJSON(w, http.StatusOK, ModerationResponse{Message: "User banned successfully", User: user})
}

// HTTP: POST /api/admin/unban-user {"username": "bob"}
func (h *AdminHandler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.moderation.Unban(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, "unban", user)
	writeJSON(w, http.StatusOK, ModerationResponse{Message: "User unbanned successfully", User: user})
}

// HTTP: POST /api/admin/verify-user {"username": "bob", "verified": true}
func (h *AdminHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.moderation.SetVerified(r.Context(), req.Username, req.Verified)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, "verify", user)
	writeJSON(w, http.StatusOK, ModerationResponse{Message: "User verification updated successfully", User: user})
}

// HTTP: POST /api/admin/make-admin {"username": "bob", "admin": true}
func (h *AdminHandler) HandleMakeAdmin(w http.ResponseWriter, r *http.Request) {
	var req makeAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.moderation.SetAdmin(r.Context(), req.Username, req.Admin)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, "make-admin", user)
	writeJSON(w, http.StatusOK, ModerationResponse{Message: "User admin status updated successfully", User: user})
}

// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.moderation.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// audit records which admin acted. The service logs what changed.
func (h *AdminHandler) audit(r *http.Request, route string, target *model.User) {
	actor := ""
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = c.Handle
	}
	h.logger.Info("admin request",
		slog.String("route", route),
		slog.String("admin", actor),
		slog.String("target", target.Handle),
	)
}
