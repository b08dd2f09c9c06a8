package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/service"
)

const stateCookie = "oauth_state"

// GitHubAuthenticator is the part of auth.GitHubProvider the sign-in
// handlers use.
type GitHubAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves registration, password login and GitHub sign-in.
type AuthHandler struct {
	auth        *service.AuthService
	github      GitHubAuthenticator // nil when GitHub sign-in is disabled
	frontendURL string
	logger      *slog.Logger
}

func NewAuthHandler(
	authSvc *service.AuthService,
	github GitHubAuthenticator,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:        authSvc,
		github:      github,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// HandleRegister creates an identity and returns {token, user}.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin checks credentials and returns {token, user}.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGitHubLogin redirects the browser to GitHub.
//
// HTTP: GET /auth/github/login
//
// A random state goes both into the redirect and into a short-lived
// HttpOnly cookie; the callback only proceeds when they match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes GitHub sign-in and redirects to the
// frontend with the token in the URL fragment ("#token=..."), which
// browsers never send to servers. Failures redirect with "#error=<kind>".
//
// HTTP: GET /auth/github/callback?code=...&state=...
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", denied))
		h.redirectFragment(w, r, "error", "access_denied")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		h.redirectFragment(w, r, "error", "github_exchange_failed")
		return
	}

	res, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		if errors.Is(err, apperror.ErrAccountBanned) {
			h.redirectFragment(w, r, "error", "account_banned")
			return
		}
		h.logger.Error("github callback: sign-in failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		h.redirectFragment(w, r, "error", "sign_in_failed")
		return
	}

	h.redirectFragment(w, r, "token", res.Token)
}

func (h *AuthHandler) redirectFragment(w http.ResponseWriter, r *http.Request, key, value string) {
	frag := url.Values{key: {value}}.Encode()
	http.Redirect(w, r, h.frontendURL+"/#"+frag, http.StatusSeeOther)
}
