package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/cache"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
)

// Moderation actions, used as the metrics label.
const (
	ActionBan         = "ban"
	ActionUnban       = "unban"
	ActionVerify      = "verify"
	ActionUnverify    = "unverify"
	ActionGrantAdmin  = "grant_admin"
	ActionRevokeAdmin = "revoke_admin"
)

// ModerationService applies admin decisions to identities.
//
// STATE MACHINE:
// An identity's access is three independent switches:
//
//	ban:      Active ──Ban(h>0)──▶ Banned(until) ──clock passes until──▶ Active
//	          Active ──Ban(0)────▶ Banned(forever)
//	          any    ──Unban─────▶ Active
//	verified: false ⇄ true   (badge only)
//	admin:    false ⇄ true   (grants these operations)
//
// Ban, SetVerified and SetAdmin are plain assignments: banning twice
// replaces the first ban, and there is no "last admin" protection, so an
// admin may demote themself.
//
// Callers are expected to be admins; the HTTP guard enforces it.
type ModerationService struct {
	users  repository.UserRepository
	status cache.StatusCache // nil when the guard does not re-check
	logger *slog.Logger
	options
}

func NewModerationService(
	users repository.UserRepository,
	status cache.StatusCache,
	logger *slog.Logger,
	opts ...Option,
) *ModerationService {
	return &ModerationService{
		users:   users,
		status:  status,
		logger:  logger,
		options: buildOptions(opts),
	}
}

// Ban bans handle for hours from now. hours == 0 bans permanently;
// negative hours are rejected.
func (s *ModerationService) Ban(ctx context.Context, handle string, hours int) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	if hours < 0 {
		return nil, apperror.ValidationFailed("duration", "duration must not be negative")
	}
	if hours > MaxBanHours {
		return nil, apperror.ValidationFailed("duration",
			fmt.Sprintf("duration must be at most %d hours; use 0 for a permanent ban", MaxBanHours))
	}

	var (
		until     *time.Time
		permanent bool
	)
	if hours == 0 {
		permanent = true
	} else {
		t := s.now().UTC().Add(time.Duration(hours) * time.Hour)
		until = &t
	}

	user, err := s.users.SetBan(ctx, handle, until, permanent)
	if err != nil {
		return nil, s.wrap("banning", handle, err)
	}
	s.applied(ctx, ActionBan, user,
		slog.Int("hours", hours),
		slog.Bool("permanent", permanent),
	)
	return user, nil
}

// Unban lifts any ban, temporary or permanent. Unbanning an active
// identity is a no-op that still succeeds.
func (s *ModerationService) Unban(ctx context.Context, handle string) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	user, err := s.users.SetBan(ctx, handle, nil, false)
	if err != nil {
		return nil, s.wrap("unbanning", handle, err)
	}
	s.applied(ctx, ActionUnban, user)
	return user, nil
}

func (s *ModerationService) SetVerified(ctx context.Context, handle string, verified bool) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	user, err := s.users.SetVerified(ctx, handle, verified)
	if err != nil {
		return nil, s.wrap("verifying", handle, err)
	}
	action := ActionVerify
	if !verified {
		action = ActionUnverify
	}
	s.applied(ctx, action, user)
	return user, nil
}

// SetAdmin grants or revokes admin rights. Tokens issued before a grant
// keep saying admin=false until the identity logs in again.
func (s *ModerationService) SetAdmin(ctx context.Context, handle string, admin bool) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	user, err := s.users.SetAdmin(ctx, handle, admin)
	if err != nil {
		return nil, s.wrap("setting admin on", handle, err)
	}
	action := ActionGrantAdmin
	if !admin {
		action = ActionRevokeAdmin
	}
	s.applied(ctx, action, user)
	return user, nil
}

// ListUsers returns every identity, newest first.
func (s *ModerationService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/moderation: listing identities: %w", err)
	}
	return users, nil
}

// applied invalidates the cached status, counts the action and logs it.
// A failed invalidation is only logged: the entry still expires with its
// TTL.
func (s *ModerationService) applied(ctx context.Context, action string, user *model.User, attrs ...any) {
	if s.status != nil {
		if err := s.status.Invalidate(ctx, user.ID); err != nil {
			s.logger.Warn("status cache invalidation failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.metrics.ObserveModeration(action)

	args := append([]any{
		slog.String("action", action),
		slog.String("username", user.Handle),
	}, attrs...)
	s.logger.Info("moderation action applied", args...)
}

func (s *ModerationService) wrap(verb, handle string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	s.logger.Error("moderation failed", slog.String("username", handle), slog.String("error", err.Error()))
	return fmt.Errorf("service/moderation: %s %s: %w", verb, handle, err)
}
