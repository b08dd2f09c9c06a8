package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
)

var _ repository.PostRepository = (*PostDB)(nil)

// PostDB is the posts table: originals, replies and reposts.
type PostDB struct {
	conn *sql.DB
}

// Create inserts post. ReplyTo/RepostOf are stored as given; whether they
// must point at an existing post is decided by the service layer.
func (p *PostDB) Create(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.UpdatedAt = post.CreatedAt

	_, err := p.conn.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, content, image, reply_to, repost_of, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID,
		post.UserID,
		post.Content,
		nullString(post.Image),
		nullString(post.ReplyTo),
		nullString(post.RepostOf),
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating post: %w", err)
	}
	return nil
}

func (p *PostDB) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := p.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking post %s: %w", id, err)
	}
	return n > 0, nil
}

// Feed returns top-level posts (reply_to IS NULL), newest first, with the
// author joined in and every counter computed by subquery. viewerID drives
// liked_by_user; an empty viewer never matches.
func (p *PostDB) Feed(ctx context.Context, viewerID string, opts repository.ListOptions) ([]model.FeedItem, error) {
	rows, err := p.conn.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.content, p.image, p.reply_to, p.repost_of,
		        p.created_at, p.updated_at,
		        i.handle, i.display_name, i.avatar, i.verified,
		        (SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id),
		        (SELECT COUNT(*) FROM posts r WHERE r.reply_to = p.id),
		        (SELECT COUNT(*) FROM posts rp WHERE rp.repost_of = p.id),
		        EXISTS(SELECT 1 FROM likes ml WHERE ml.post_id = p.id AND ml.user_id = ?)
		 FROM posts p
		 JOIN identities i ON i.id = p.user_id
		 WHERE p.reply_to IS NULL
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT ? OFFSET ?`,
		viewerID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading feed: %w", err)
	}
	defer rows.Close()

	items := []model.FeedItem{}
	for rows.Next() {
		var (
			it                       model.FeedItem
			image, replyTo, repostOf sql.NullString
		)
		err := rows.Scan(
			&it.ID,
			&it.UserID,
			&it.Content,
			&image,
			&replyTo,
			&repostOf,
			&it.CreatedAt,
			&it.UpdatedAt,
			&it.Username,
			&it.DisplayName,
			&it.Avatar,
			&it.Verified,
			&it.LikesCount,
			&it.RepliesCount,
			&it.RepostsCount,
			&it.LikedByUser,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning feed row: %w", err)
		}
		it.Image = stringPtr(image)
		it.ReplyTo = stringPtr(replyTo)
		it.RepostOf = stringPtr(repostOf)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating feed rows: %w", err)
	}
	return items, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
