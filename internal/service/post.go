package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
	"github.com/sakif/cloudtype/internal/storage"
)

// Post kinds, used as the metrics label.
const (
	KindPost   = "post"
	KindReply  = "reply"
	KindRepost = "repost"
)

// ReferenceValidator checks reply_to / repost_of targets before a post is
// stored. Without one, references are stored as given.
type ReferenceValidator interface {
	ValidateReference(ctx context.Context, field, postID string) error
}

// ExistingPostValidator fails with NotFound for references to posts that
// do not exist.
type ExistingPostValidator struct {
	Posts repository.PostRepository
}

func (v ExistingPostValidator) ValidateReference(ctx context.Context, field, postID string) error {
	ok, err := v.Posts.Exists(ctx, postID)
	if err != nil {
		return fmt.Errorf("service/post: checking %s %s: %w", field, postID, err)
	}
	if !ok {
		return apperror.NotFound("post", postID)
	}
	return nil
}

// CreatePostInput is a new content item. Attachment is optional.
type CreatePostInput struct {
	Content    string
	ReplyTo    string
	RepostOf   string
	Attachment *storage.Upload
}

// PostService owns the content graph: posts, replies, reposts and likes.
type PostService struct {
	posts     repository.PostRepository
	likes     repository.LikeRepository
	store     storage.Store
	validator ReferenceValidator
	logger    *slog.Logger
	options
}

// NewPostService wires the content graph. store may be nil when uploads
// are disabled and validator nil to accept any reference.
func NewPostService(
	posts repository.PostRepository,
	likes repository.LikeRepository,
	store storage.Store,
	validator ReferenceValidator,
	logger *slog.Logger,
	opts ...Option,
) *PostService {
	return &PostService{
		posts:     posts,
		likes:     likes,
		store:     store,
		validator: validator,
		logger:    logger,
		options:   buildOptions(opts),
	}
}

// CreatePost stores a post authored by userID.
//
// A post needs at least one of: a non-blank body, an attachment or a
// repost target. A repost with no body of its own is the usual case.
func (s *PostService) CreatePost(ctx context.Context, userID string, in CreatePostInput) (*model.Post, error) {
	content := strings.TrimSpace(in.Content)
	replyTo := strings.TrimSpace(in.ReplyTo)
	repostOf := strings.TrimSpace(in.RepostOf)

	if content == "" && in.Attachment == nil && repostOf == "" {
		return nil, apperror.ValidationFailed("content", "post content, image or repost is required")
	}
	if utf8.RuneCountInString(content) > MaxPostLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("post content must be at most %d characters", MaxPostLength))
	}

	if s.validator != nil {
		if replyTo != "" {
			if err := s.validator.ValidateReference(ctx, "reply_to", replyTo); err != nil {
				return nil, err
			}
		}
		if repostOf != "" {
			if err := s.validator.ValidateReference(ctx, "repost_of", repostOf); err != nil {
				return nil, err
			}
		}
	}

	now := s.now().UTC()
	post := &model.Post{
		UserID:    userID,
		Content:   content,
		ReplyTo:   optional(replyTo),
		RepostOf:  optional(repostOf),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if in.Attachment != nil {
		if s.store == nil {
			return nil, apperror.ValidationFailed("image", "image uploads are disabled")
		}
		ref, err := s.store.Save(ctx, *in.Attachment)
		if err != nil {
			return nil, fmt.Errorf("service/post: saving attachment: %w", err)
		}
		post.Image = &ref
	}

	if err := s.posts.Create(ctx, post); err != nil {
		s.logger.Error("post create failed", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/post: creating post: %w", err)
	}

	kind := KindPost
	switch {
	case post.RepostOf != nil:
		kind = KindRepost
	case post.ReplyTo != nil:
		kind = KindReply
	}
	s.metrics.ObservePost(kind)
	s.logger.Debug("post created",
		slog.String("postID", post.ID),
		slog.String("userID", userID),
		slog.String("kind", kind),
	)
	return post, nil
}

// Feed returns top-level posts newest first, annotated for viewerID.
// limit <= 0 means DefaultFeedLimit; larger than MaxFeedLimit is clamped.
func (s *PostService) Feed(ctx context.Context, viewerID string, limit, offset int) ([]model.FeedItem, error) {
	switch {
	case limit <= 0:
		limit = DefaultFeedLimit
	case limit > MaxFeedLimit:
		limit = MaxFeedLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.posts.Feed(ctx, viewerID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/post: reading feed: %w", err)
	}
	if items == nil {
		items = []model.FeedItem{}
	}
	return items, nil
}

// Like adds a like edge. Liking twice is not an error. With a reference
// validator configured, liking an unknown post is NotFound.
func (s *PostService) Like(ctx context.Context, userID, postID string) (model.LikeResult, error) {
	if err := requirePostID(postID); err != nil {
		return "", err
	}
	if s.validator != nil {
		if err := s.validator.ValidateReference(ctx, "id", postID); err != nil {
			return "", err
		}
	}
	res, err := s.likes.Like(ctx, userID, postID)
	if err != nil {
		return "", fmt.Errorf("service/post: liking %s: %w", postID, err)
	}
	s.metrics.ObserveLike(string(res))
	return res, nil
}

// Unlike removes a like edge. Unliking twice is not an error.
func (s *PostService) Unlike(ctx context.Context, userID, postID string) (model.LikeResult, error) {
	if err := requirePostID(postID); err != nil {
		return "", err
	}
	res, err := s.likes.Unlike(ctx, userID, postID)
	if err != nil {
		return "", fmt.Errorf("service/post: unliking %s: %w", postID, err)
	}
	s.metrics.ObserveLike(string(res))
	return res, nil
}

// Open streams a stored attachment.
func (s *PostService) Open(ctx context.Context, key string) (*Attachment, error) {
	if s.store == nil || !storage.ValidKey(key) {
		return nil, apperror.NotFound("attachment", key)
	}
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperror.NotFound("attachment", key)
		}
		return nil, fmt.Errorf("service/post: opening attachment %s: %w", key, err)
	}
	return &Attachment{Key: key, Body: rc}, nil
}

// Attachment is an open attachment stream. Callers close Body.
type Attachment struct {
	Key  string
	Body io.ReadCloser
}

func requirePostID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("id", "post id is required")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
