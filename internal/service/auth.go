package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/metrics"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RegisterInput is a registration request.
type RegisterInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username,
			validation.Required,
			validation.Length(1, 39),
			validation.Match(handlePattern).Error("may only contain letters, digits, '_' and '-'"),
		),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, maxBytes(72)),
		validation.Field(&in.DisplayName, validation.Length(0, 100)),
	)
}

// LoginInput is a login request.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

// AuthResult bundles the identity and a freshly issued token.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// AdminSeed describes the administrative identity created at startup.
type AdminSeed struct {
	Handle      string
	Email       string
	Password    string
	DisplayName string
}

// AuthService registers identities and issues tokens.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	options
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	opts ...Option,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		options:   buildOptions(opts),
	}
}

// Register creates an identity and logs it in. New identities are never
// admin, verified or banned. display_name defaults to the handle.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password for %s: %w", in.Username, err)
	}

	displayName := in.DisplayName
	if displayName == "" {
		displayName = in.Username
	}

	user := &model.User{
		Handle:       in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		DisplayName:  displayName,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("registration failed", slog.String("username", in.Username), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/auth: creating identity %s: %w", in.Username, err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}

	s.metrics.ObserveRegistration()
	s.logger.Info("identity registered", slog.String("userID", user.ID), slog.String("username", user.Handle))
	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies credentials and issues a fresh token carrying the
// identity's current role flags.
//
// ORDER OF CHECKS:
//  1. unknown handle         → InvalidCredential
//  2. banned at s.now()      → AccountBanned, even with a correct password
//  3. wrong password         → InvalidCredential
//
// The ban check runs before the password check, so a banned identity
// learns it is banned without proving it knows the password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	user, err := s.users.GetByHandle(ctx, in.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.metrics.ObserveLogin(metrics.LoginInvalidCredentials)
			return nil, apperror.InvalidCredential()
		}
		return nil, fmt.Errorf("service/auth: loading identity %s: %w", in.Username, err)
	}

	if user.IsBanned(s.now()) {
		s.metrics.ObserveLogin(metrics.LoginBanned)
		s.logger.Info("login refused for banned identity",
			slog.String("username", user.Handle),
			slog.String("state", string(user.BanStatus(s.now()))),
		)
		return nil, apperror.AccountBanned(user.Handle)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.metrics.ObserveLogin(metrics.LoginInvalidCredentials)
			return nil, apperror.InvalidCredential()
		}
		return nil, fmt.Errorf("service/auth: verifying password for %s: %w", user.Handle, err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}

	s.metrics.ObserveLogin(metrics.LoginSuccess)
	return &AuthResult{User: user, Token: token}, nil
}

// Me returns the stored identity behind a token.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: loading identity %s: %w", userID, err)
	}
	return user, nil
}

// Profile returns the public view of handle.
func (s *AuthService) Profile(ctx context.Context, handle string) (*model.Profile, error) {
	p, err := s.users.Profile(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: loading profile %s: %w", handle, err)
	}
	return p, nil
}

// LoginOrRegisterGitHub signs in the identity linked to a GitHub account,
// creating it on first use. Such identities have no password hash and
// can only sign in through GitHub.
//
// When the GitHub login is already taken as a handle, the new identity
// gets "<login>-<github id>" instead.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("service/auth: GitHub user must not be empty")
	}

	user, err := s.users.GetByGitHubID(ctx, gh.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createGitHubIdentity(ctx, gh)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: loading GitHub identity %d: %w", gh.ID, err)
	}

	if user.IsBanned(s.now()) {
		s.metrics.ObserveLogin(metrics.LoginBanned)
		return nil, apperror.AccountBanned(user.Handle)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}

	s.metrics.ObserveLogin(metrics.LoginSuccess)
	s.logger.Info("identity authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Handle),
	)
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) createGitHubIdentity(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	email := gh.Email
	if email == "" {
		email = gh.NoReplyEmail()
	}
	displayName := gh.Name
	if displayName == "" {
		displayName = gh.Login
	}
	githubID := gh.ID

	for _, handle := range []string{gh.Login, fmt.Sprintf("%s-%d", gh.Login, gh.ID)} {
		user := &model.User{
			Handle:      handle,
			Email:       email,
			DisplayName: displayName,
			AvatarRef:   gh.AvatarURL,
			GitHubID:    &githubID,
			CreatedAt:   s.now().UTC(),
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			s.metrics.ObserveRegistration()
			return user, nil
		}
		if !errors.Is(err, apperror.ErrDuplicateHandle) {
			if errors.Is(err, apperror.ErrConflict) {
				return nil, err
			}
			return nil, fmt.Errorf("service/auth: creating GitHub identity %s: %w", handle, err)
		}
	}
	return nil, apperror.DuplicateHandle(gh.Login)
}

// SeedAdmin creates the administrative identity unless its handle exists.
// An existing identity is left untouched, including its password.
func (s *AuthService) SeedAdmin(ctx context.Context, seed AdminSeed) error {
	hash, err := s.passwords.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("service/auth: hashing admin password: %w", err)
	}
	displayName := seed.DisplayName
	if displayName == "" {
		displayName = seed.Handle
	}

	created, err := s.users.SeedAdmin(ctx, &model.User{
		Handle:       seed.Handle,
		Email:        seed.Email,
		PasswordHash: hash,
		DisplayName:  displayName,
		IsAdmin:      true,
		Verified:     true,
	})
	if err != nil {
		return fmt.Errorf("service/auth: seeding admin %s: %w", seed.Handle, err)
	}

	if created {
		s.logger.Info("admin identity seeded", slog.String("username", seed.Handle))
	} else {
		s.logger.Debug("admin identity already present", slog.String("username", seed.Handle))
	}
	return nil
}
