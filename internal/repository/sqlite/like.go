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

var _ repository.LikeRepository = (*LikeDB)(nil)

// LikeDB is the likes table. UNIQUE(user_id, post_id) makes the edge a set
// member, so both directions are single statements with no read-then-write
// race between concurrent requests.
type LikeDB struct {
	conn *sql.DB
}

func (l *LikeDB) Like(ctx context.Context, userID, postID string) (model.LikeResult, error) {
	res, err := l.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO likes (id, user_id, post_id, created_at) VALUES (?, ?, ?, ?)`,
		xid.New().String(), userID, postID, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: liking post %s: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: liking post %s: %w", postID, err)
	}
	if n == 0 {
		return model.LikeAlreadyPresent, nil
	}
	return model.LikeAdded, nil
}

func (l *LikeDB) Unlike(ctx context.Context, userID, postID string) (model.LikeResult, error) {
	res, err := l.conn.ExecContext(ctx,
		`DELETE FROM likes WHERE user_id = ? AND post_id = ?`, userID, postID)
	if err != nil {
		return "", fmt.Errorf("sqlite: unliking post %s: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: unliking post %s: %w", postID, err)
	}
	if n == 0 {
		return model.LikeNotPresent, nil
	}
	return model.LikeRemoved, nil
}
