// Package repository declares the storage contracts the service layer
// depends on. The SQLite implementation lives in repository/sqlite; service
// tests use in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/cloudtype/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository is the credential store.
//
// The moderation setters address identities by handle and return the row
// as it is after the update, so callers get the identity ID (for cache
// invalidation) without a second query. Unknown handles yield
// apperror.ErrNotFound.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByHandle(ctx context.Context, handle string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Profile(ctx context.Context, handle string) (*model.Profile, error)

	// SeedAdmin inserts user unless the handle already exists.
	// Reports whether a row was created.
	SeedAdmin(ctx context.Context, user *model.User) (bool, error)

	SetBan(ctx context.Context, handle string, until *time.Time, permanent bool) (*model.User, error)
	SetVerified(ctx context.Context, handle string, verified bool) (*model.User, error)
	SetAdmin(ctx context.Context, handle string, admin bool) (*model.User, error)
}

// PostRepository stores content items and reads the feed.
type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	Exists(ctx context.Context, id string) (bool, error)
	Feed(ctx context.Context, viewerID string, opts ListOptions) ([]model.FeedItem, error)
}

// LikeRepository stores like edges. Both calls are idempotent.
type LikeRepository interface {
	Like(ctx context.Context, userID, postID string) (model.LikeResult, error)
	Unlike(ctx context.Context, userID, postID string) (model.LikeResult, error)
}
