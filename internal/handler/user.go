package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/service"
)

type UserHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewUserHandler(authSvc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{auth: authSvc, logger: logger}
}

// HandleMe returns the stored identity behind the bearer token. This is
// current state, so it can disagree with the token's own claims.
//
// HTTP: GET /api/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated())
		return
	}

	user, err := h.auth.Me(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleProfile returns the public profile of {username}.
//
// HTTP: GET /api/users/{username}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "username")

	profile, err := h.auth.Profile(r.Context(), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
