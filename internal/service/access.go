package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/cache"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
)

var _ auth.AccountChecker = (*AccessService)(nil)

// AccessService answers the guard's per-request questions from current
// stored state, through the status cache.
type AccessService struct {
	users  repository.UserRepository
	status cache.StatusCache
	logger *slog.Logger
	options
}

func NewAccessService(
	users repository.UserRepository,
	status cache.StatusCache,
	logger *slog.Logger,
	opts ...Option,
) *AccessService {
	return &AccessService{
		users:   users,
		status:  status,
		logger:  logger,
		options: buildOptions(opts),
	}
}

// CheckActive fails for banned identities and for tokens whose identity
// no longer exists.
func (s *AccessService) CheckActive(ctx context.Context, userID string) error {
	st, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if st.BanStatus(s.now()) != model.BanStateActive {
		return apperror.AccountBanned(st.Handle)
	}
	return nil
}

// CheckAdmin fails unless the identity is an admin right now.
func (s *AccessService) CheckAdmin(ctx context.Context, userID string) error {
	st, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !st.IsAdmin {
		return apperror.Forbidden("admin access required")
	}
	return nil
}

func (s *AccessService) load(ctx context.Context, userID string) (model.AccountStatus, error) {
	// cacheable stays false when the generation is unknown; a Set without
	// it could overwrite an Invalidate.
	var gen uint64
	cacheable := false
	if s.status != nil {
		st, ok, err := s.status.Get(ctx, userID)
		if err != nil {
			// Fall through to the database; a cache outage must not lock
			// everyone out.
			s.cacheWarning("status cache read failed", userID, err)
		} else if ok {
			return st, nil
		}

		// Read before the row so an Invalidate that lands during the
		// load makes the Set below a no-op.
		if gen, err = s.status.Generation(ctx, userID); err != nil {
			s.cacheWarning("status cache generation read failed", userID, err)
		} else {
			cacheable = true
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.AccountStatus{}, apperror.InvalidToken("account no longer exists")
		}
		return model.AccountStatus{}, fmt.Errorf("service/access: loading identity %s: %w", userID, err)
	}

	st := user.AccountStatus()
	if cacheable {
		if err := s.status.Set(ctx, st, gen); err != nil {
			s.cacheWarning("status cache write failed", userID, err)
		}
	}
	return st, nil
}

func (s *AccessService) cacheWarning(msg, userID string, err error) {
	s.logger.Warn(msg,
		slog.String("userID", userID),
		slog.String("error", err.Error()),
	)
}
