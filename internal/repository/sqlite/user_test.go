package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/model"
)

// createTestUser creates an identity and fails the test if it errors.
func createTestUser(t *testing.T, u *UserDB, handle string) *model.User {
	t.Helper()
	user := &model.User{
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: "$2a$10$hash",
		DisplayName:  handle,
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user %s: %v", handle, err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()

	user := createTestUser(t, u, "alice")

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}

	got, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Handle != "alice" || got.Email != "alice@example.com" {
		t.Errorf("GetByID() = %s/%s, want alice/alice@example.com", got.Handle, got.Email)
	}
	if got.IsBanned(time.Now()) || got.IsAdmin || got.Verified {
		t.Error("new identity should start active, non-admin and unverified")
	}
	if got.GitHubID != nil {
		t.Errorf("GitHubID = %v, want nil", *got.GitHubID)
	}
}

func TestUserCreate_DuplicateHandle(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	createTestUser(t, u, "alice")
	before := countRows(t, db, "identities")

	err := u.Create(context.Background(), &model.User{
		Handle:       "alice",
		Email:        "other@example.com",
		PasswordHash: "x",
	})
	if !errors.Is(err, apperror.ErrDuplicateHandle) {
		t.Fatalf("Create() error = %v, want ErrDuplicateHandle", err)
	}
	if after := countRows(t, db, "identities"); after != before {
		t.Errorf("row count changed from %d to %d on failed insert", before, after)
	}
}

func TestUserCreate_DuplicateContact(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	createTestUser(t, u, "alice")
	before := countRows(t, db, "identities")

	err := u.Create(context.Background(), &model.User{
		Handle:       "bob",
		Email:        "alice@example.com",
		PasswordHash: "x",
	})
	if !errors.Is(err, apperror.ErrDuplicateContact) {
		t.Fatalf("Create() error = %v, want ErrDuplicateContact", err)
	}
	if errors.Is(err, apperror.ErrDuplicateHandle) {
		t.Error("contact collision must not report as a handle collision")
	}
	if after := countRows(t, db, "identities"); after != before {
		t.Errorf("row count changed from %d to %d on failed insert", before, after)
	}
}

func TestUserCreate_GitHubIdentity(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()

	ghID := int64(4242)
	user := &model.User{Handle: "octo", Email: "octo@users.noreply.github.com", GitHubID: &ghID}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := u.GetByGitHubID(context.Background(), ghID)
	if err != nil {
		t.Fatalf("GetByGitHubID() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("GetByGitHubID() id = %s, want %s", got.ID, user.ID)
	}
	if got.PasswordHash != "" {
		t.Error("GitHub identity should have no password hash")
	}

	_, err = u.GetByGitHubID(context.Background(), 1)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByGitHubID(unknown) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestUserGetByHandle_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Users().GetByHandle(context.Background(), "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByHandle() error = %v, want ErrNotFound", err)
	}
}

func TestUserList(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()

	users, err := u.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 0 {
		t.Errorf("List() on empty db = %d users, want 0", len(users))
	}

	createTestUser(t, u, "alice")
	createTestUser(t, u, "bob")

	users, err = u.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("List() = %d users, want 2", len(users))
	}
}

func TestUserProfile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db.Users(), "alice")
	bob := createTestUser(t, db.Users(), "bob")

	if err := db.Posts().Create(ctx, &model.Post{UserID: alice.ID, Content: "one"}); err != nil {
		t.Fatalf("Create post: %v", err)
	}
	if err := db.Posts().Create(ctx, &model.Post{UserID: alice.ID, Content: "two"}); err != nil {
		t.Fatalf("Create post: %v", err)
	}
	if _, err := db.conn.Exec(
		`INSERT INTO follows (id, follower_id, following_id) VALUES ('f1', ?, ?)`, bob.ID, alice.ID,
	); err != nil {
		t.Fatalf("insert follow: %v", err)
	}

	p, err := db.Users().Profile(ctx, "alice")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.PostsCount != 2 || p.FollowersCount != 1 || p.FollowingCount != 0 {
		t.Errorf("Profile() counts = posts %d followers %d following %d, want 2/1/0",
			p.PostsCount, p.FollowersCount, p.FollowingCount)
	}

	_, err = db.Users().Profile(ctx, "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Profile(ghost) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SEED TESTS
// =========================================================================

func TestSeedAdmin_Idempotent(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	ctx := context.Background()

	admin := func() *model.User {
		return &model.User{
			Handle:       "admin",
			Email:        "admin@cloudtype.local",
			PasswordHash: "h",
			DisplayName:  "Administrator",
			IsAdmin:      true,
			Verified:     true,
		}
	}

	created, err := u.SeedAdmin(ctx, admin())
	if err != nil || !created {
		t.Fatalf("first SeedAdmin() = %v, %v; want true, nil", created, err)
	}
	created, err = u.SeedAdmin(ctx, admin())
	if err != nil || created {
		t.Fatalf("second SeedAdmin() = %v, %v; want false, nil", created, err)
	}
	if n := countRows(t, db, "identities"); n != 1 {
		t.Errorf("identities = %d rows, want 1", n)
	}

	got, err := u.GetByHandle(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByHandle(admin) error = %v", err)
	}
	if !got.IsAdmin || !got.Verified {
		t.Errorf("seeded admin flags = admin %v verified %v, want true/true", got.IsAdmin, got.Verified)
	}
}

// =========================================================================
// MODERATION TESTS
// =========================================================================

func TestSetBan_TemporaryThenLift(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	ctx := context.Background()
	createTestUser(t, u, "mallory")

	until := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := u.SetBan(ctx, "mallory", &until, false)
	if err != nil {
		t.Fatalf("SetBan() error = %v", err)
	}
	if got.BannedUntil == nil || !got.BannedUntil.Equal(until) {
		t.Errorf("BannedUntil = %v, want %v", got.BannedUntil, until)
	}
	if got.BanStatus(until.Add(-time.Hour)) != model.BanStateTemporary {
		t.Error("expected temporary ban before expiry")
	}

	got, err = u.SetBan(ctx, "mallory", nil, false)
	if err != nil {
		t.Fatalf("SetBan(lift) error = %v", err)
	}
	if got.BannedUntil != nil || got.BannedPermanently {
		t.Errorf("ban not cleared: until=%v permanent=%v", got.BannedUntil, got.BannedPermanently)
	}
}

func TestSetBan_Permanent(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	createTestUser(t, u, "mallory")

	got, err := u.SetBan(context.Background(), "mallory", nil, true)
	if err != nil {
		t.Fatalf("SetBan() error = %v", err)
	}
	if got.BanStatus(time.Now().AddDate(50, 0, 0)) != model.BanStatePermanent {
		t.Error("permanent ban should never lapse")
	}
}

func TestModerationSetters_UnknownHandle(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"SetBan", func() error { _, err := u.SetBan(ctx, "ghost", nil, true); return err }},
		{"SetVerified", func() error { _, err := u.SetVerified(ctx, "ghost", true); return err }},
		{"SetAdmin", func() error { _, err := u.SetAdmin(ctx, "ghost", true); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, apperror.ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetVerifiedAndAdmin(t *testing.T) {
	db := newTestDB(t)
	u := db.Users()
	ctx := context.Background()
	createTestUser(t, u, "bob")

	got, err := u.SetVerified(ctx, "bob", true)
	if err != nil || !got.Verified {
		t.Fatalf("SetVerified(true) = %v, %v", got, err)
	}
	got, err = u.SetAdmin(ctx, "bob", true)
	if err != nil || !got.IsAdmin {
		t.Fatalf("SetAdmin(true) = %v, %v", got, err)
	}
	if !got.Verified {
		t.Error("SetAdmin must not touch verified")
	}
	got, err = u.SetAdmin(ctx, "bob", false)
	if err != nil || got.IsAdmin {
		t.Fatalf("SetAdmin(false) = %v, %v", got, err)
	}
}
