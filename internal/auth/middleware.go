package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/metrics"
)

// contextKey is package-private so no other package can read or shadow
// the claims stored in a request context.
type contextKey string

const claimsKey contextKey = "claims"

// AccountChecker looks at the current stored state of an identity, as
// opposed to the snapshot in its token.
//
// CheckActive fails with apperror.ErrAccountBanned for a banned identity
// and apperror.ErrInvalidToken for one that no longer exists. CheckAdmin
// fails with apperror.ErrForbidden when the identity is not an admin now.
type AccountChecker interface {
	CheckActive(ctx context.Context, userID string) error
	CheckAdmin(ctx context.Context, userID string) error
}

// Guard is the authorization middleware.
//
// Without an AccountChecker it trusts the token alone: a ban only takes
// effect at the next login and an admin keeps admin rights until the
// token is discarded. With one, every authenticated request re-checks the
// ban and every admin request re-checks the stored admin flag. The admin
// gate always requires the token's admin claim too, so a promotion still
// needs a fresh login.
type Guard struct {
	tokens  *TokenService
	checker AccountChecker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type GuardOption func(*Guard)

// WithAccountChecker enables the per-request re-check.
func WithAccountChecker(c AccountChecker) GuardOption {
	return func(g *Guard) { g.checker = c }
}

func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

func NewGuard(tokens *TokenService, logger *slog.Logger, opts ...GuardOption) *Guard {
	g := &Guard{tokens: tokens, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate rejects requests without a valid bearer token and stores
// the claims in the request context.
//
//	missing token  → 401 unauthorized
//	invalid token  → 403 invalid_token
//	banned account → 403 account_banned (re-check enabled only)
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			g.reject(w, r, "missing_token", apperror.Unauthenticated())
			return
		}

		claims, err := g.tokens.Validate(raw)
		if err != nil {
			g.reject(w, r, "invalid_token", err)
			return
		}

		if g.checker != nil {
			if err := g.checker.CheckActive(r.Context(), claims.UserID); err != nil {
				g.reject(w, r, "account_inactive", err)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin must be mounted after Authenticate.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			g.reject(w, r, "missing_token", apperror.Unauthenticated())
			return
		}
		if !claims.IsAdmin {
			g.reject(w, r, "not_admin", apperror.Forbidden("admin access required"))
			return
		}
		if g.checker != nil {
			if err := g.checker.CheckAdmin(r.Context(), claims.UserID); err != nil {
				g.reject(w, r, "admin_revoked", err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	g.metrics.ObserveGuardRejection(reason)

	status, kind := apperror.HTTPStatus(err)
	msg := apperror.InternalMessage
	var appErr *apperror.AppError
	if status == http.StatusInternalServerError || !errors.As(err, &appErr) {
		g.logger.Error("guard: account check failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	} else {
		msg = appErr.Message
		g.logger.Debug("guard: request rejected",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": msg}); encErr != nil {
		g.logger.Error("guard: failed to encode rejection",
			slog.String("path", r.URL.Path),
			slog.String("error", encErr.Error()),
		)
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims returns a context carrying claims. Handler tests use it to
// skip the middleware.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}
