package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the identities table.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, handle, email, password_hash, display_name, bio, avatar,
	verified, is_admin, banned_until, banned_permanently, github_id,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u           model.User
		bannedUntil sql.NullTime
		githubID    sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Handle,
		&u.Email,
		&u.PasswordHash,
		&u.DisplayName,
		&u.Bio,
		&u.AvatarRef,
		&u.Verified,
		&u.IsAdmin,
		&bannedUntil,
		&u.BannedPermanently,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if bannedUntil.Valid {
		t := bannedUntil.Time.UTC()
		u.BannedUntil = &t
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	return &u, nil
}

// Create inserts a new identity. ID and timestamps are assigned here.
//
// The insert is a single statement, so a UNIQUE failure leaves no partial
// row behind. Which constraint fired decides the error kind.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO identities (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Handle,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Bio,
		user.AvatarRef,
		boolToInt(user.Verified),
		boolToInt(user.IsAdmin),
		nullTime(user.BannedUntil),
		boolToInt(user.BannedPermanently),
		nullInt64(user.GitHubID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "identities.handle"):
			return apperror.DuplicateHandle(user.Handle)
		case isUniqueViolation(err, "identities.email"):
			return apperror.DuplicateContact(user.Email)
		case isUniqueViolation(err, "identities.github_id"):
			return apperror.Conflict("github account", fmt.Sprint(*user.GitHubID))
		}
		return fmt.Errorf("sqlite: creating identity %s: %w", user.Handle, err)
	}
	return nil
}

// SeedAdmin inserts user unless its handle is already taken.
// INSERT OR IGNORE keeps startup idempotent across restarts.
func (u *UserDB) SeedAdmin(ctx context.Context, user *model.User) (bool, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := u.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO identities
		   (id, handle, email, password_hash, display_name, verified, is_admin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Handle,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		boolToInt(user.Verified),
		boolToInt(user.IsAdmin),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: seeding identity %s: %w", user.Handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: seeding identity %s: %w", user.Handle, err)
	}
	return n == 1, nil
}

func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getOne(ctx, "id", id)
}

func (u *UserDB) GetByHandle(ctx context.Context, handle string) (*model.User, error) {
	return u.getOne(ctx, "handle", handle)
}

func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM identities WHERE github_id = ?`, githubID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("sqlite: getting identity by github id %d: %w", githubID, err)
	}
	return user, nil
}

// getOne looks an identity up by a unique column. column is always a
// constant from this file, never caller input.
func (u *UserDB) getOne(ctx context.Context, column, value string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM identities WHERE `+column+` = ?`, value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", value)
		}
		return nil, fmt.Errorf("sqlite: getting identity by %s %s: %w", column, value, err)
	}
	return user, nil
}

// List returns every identity, newest first.
func (u *UserDB) List(ctx context.Context) ([]model.User, error) {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM identities ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing identities: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning identity row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating identity rows: %w", err)
	}
	return users, nil
}

// Profile returns the public view of handle with follower/following/post
// counts aggregated at read time.
func (u *UserDB) Profile(ctx context.Context, handle string) (*model.Profile, error) {
	var p model.Profile
	err := u.conn.QueryRowContext(ctx,
		`SELECT i.id, i.handle, i.display_name, i.bio, i.avatar, i.verified, i.created_at,
		        (SELECT COUNT(*) FROM follows WHERE following_id = i.id),
		        (SELECT COUNT(*) FROM follows WHERE follower_id = i.id),
		        (SELECT COUNT(*) FROM posts WHERE user_id = i.id)
		 FROM identities i WHERE i.handle = ?`,
		handle,
	).Scan(
		&p.ID,
		&p.Handle,
		&p.DisplayName,
		&p.Bio,
		&p.AvatarRef,
		&p.Verified,
		&p.CreatedAt,
		&p.FollowersCount,
		&p.FollowingCount,
		&p.PostsCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", handle)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", handle, err)
	}
	return &p, nil
}

// =========================================================================
// MODERATION
// =========================================================================
//
// Each setter is one UPDATE. The follow-up SELECT only reads the result back
// for the caller; it never decides anything.

// SetBan writes both ban columns at once. until=nil, permanent=false lifts
// any ban.
func (u *UserDB) SetBan(ctx context.Context, handle string, until *time.Time, permanent bool) (*model.User, error) {
	return u.update(ctx, handle,
		`UPDATE identities SET banned_until = ?, banned_permanently = ?, updated_at = ? WHERE handle = ?`,
		nullTime(until), boolToInt(permanent), time.Now().UTC(), handle,
	)
}

func (u *UserDB) SetVerified(ctx context.Context, handle string, verified bool) (*model.User, error) {
	return u.update(ctx, handle,
		`UPDATE identities SET verified = ?, updated_at = ? WHERE handle = ?`,
		boolToInt(verified), time.Now().UTC(), handle,
	)
}

func (u *UserDB) SetAdmin(ctx context.Context, handle string, admin bool) (*model.User, error) {
	return u.update(ctx, handle,
		`UPDATE identities SET is_admin = ?, updated_at = ? WHERE handle = ?`,
		boolToInt(admin), time.Now().UTC(), handle,
	)
}

func (u *UserDB) update(ctx context.Context, handle, query string, args ...any) (*model.User, error) {
	res, err := u.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating identity %s: %w", handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating identity %s: %w", handle, err)
	}
	if n == 0 {
		return nil, apperror.NotFound("identity", handle)
	}
	return u.GetByHandle(ctx, handle)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
