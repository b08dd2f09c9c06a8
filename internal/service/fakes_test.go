package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository"
	"github.com/sakif/cloudtype/internal/storage"
)

// =========================================================================
// CLOCK
// =========================================================================

// testClock is a settable clock shared by every service in a test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// =========================================================================
// USER REPOSITORY
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It keeps copies
// so callers can't mutate stored state behind its back.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	err    error // returned by every call when set
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		switch {
		case u.Handle == user.Handle:
			return apperror.DuplicateHandle(user.Handle)
		case u.Email == user.Email:
			return apperror.DuplicateContact(user.Email)
		case u.GitHubID != nil && user.GitHubID != nil && *u.GitHubID == *user.GitHubID:
			return apperror.Conflict("identity", fmt.Sprint(*user.GitHubID))
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("identity", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByHandle(_ context.Context, handle string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u := f.byHandle(handle)
	if u == nil {
		return nil, apperror.NotFound("identity", handle)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.GitHubID != nil && *u.GitHubID == githubID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("identity", fmt.Sprint(githubID))
}

func (f *fakeUserRepo) List(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) Profile(_ context.Context, handle string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byHandle(handle)
	if u == nil {
		return nil, apperror.NotFound("identity", handle)
	}
	return &model.Profile{ID: u.ID, Handle: u.Handle, DisplayName: u.DisplayName, Verified: u.Verified}, nil
}

func (f *fakeUserRepo) SeedAdmin(ctx context.Context, user *model.User) (bool, error) {
	f.mu.Lock()
	exists := f.byHandle(user.Handle) != nil
	f.mu.Unlock()
	if exists {
		return false, nil
	}
	if err := f.Create(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeUserRepo) SetBan(_ context.Context, handle string, until *time.Time, permanent bool) (*model.User, error) {
	return f.update(handle, func(u *model.User) {
		u.BannedUntil = until
		u.BannedPermanently = permanent
	})
}

func (f *fakeUserRepo) SetVerified(_ context.Context, handle string, verified bool) (*model.User, error) {
	return f.update(handle, func(u *model.User) { u.Verified = verified })
}

func (f *fakeUserRepo) SetAdmin(_ context.Context, handle string, admin bool) (*model.User, error) {
	return f.update(handle, func(u *model.User) { u.IsAdmin = admin })
}

func (f *fakeUserRepo) update(handle string, apply func(*model.User)) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u := f.byHandle(handle)
	if u == nil {
		return nil, apperror.NotFound("identity", handle)
	}
	apply(u)
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) byHandle(handle string) *model.User {
	for _, u := range f.users {
		if u.Handle == handle {
			return u
		}
	}
	return nil
}

// =========================================================================
// CONTENT GRAPH
// =========================================================================

type fakePostRepo struct {
	mu       sync.Mutex
	posts    []model.Post
	lastOpts repository.ListOptions
}

func (f *fakePostRepo) Create(_ context.Context, post *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post.ID = fmt.Sprintf("post-%d", len(f.posts)+1)
	f.posts = append(f.posts, *post)
	return nil
}

func (f *fakePostRepo) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePostRepo) Feed(_ context.Context, _ string, opts repository.ListOptions) ([]model.FeedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	var items []model.FeedItem
	for i := len(f.posts) - 1; i >= 0; i-- {
		if f.posts[i].ReplyTo == nil {
			items = append(items, model.FeedItem{Post: f.posts[i]})
		}
	}
	return items, nil
}

// fakeLikeRepo mirrors INSERT OR IGNORE / DELETE semantics.
type fakeLikeRepo struct {
	mu    sync.Mutex
	edges map[[2]string]bool
}

func newFakeLikeRepo() *fakeLikeRepo {
	return &fakeLikeRepo{edges: make(map[[2]string]bool)}
}

func (f *fakeLikeRepo) Like(_ context.Context, userID, postID string) (model.LikeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := [2]string{userID, postID}
	if f.edges[k] {
		return model.LikeAlreadyPresent, nil
	}
	f.edges[k] = true
	return model.LikeAdded, nil
}

func (f *fakeLikeRepo) Unlike(_ context.Context, userID, postID string) (model.LikeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := [2]string{userID, postID}
	if !f.edges[k] {
		return model.LikeNotPresent, nil
	}
	delete(f.edges, k)
	return model.LikeRemoved, nil
}

// fakeStore keeps attachments in memory.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Save(_ context.Context, up storage.Upload) (string, error) {
	b, err := io.ReadAll(up.Body)
	if err != nil {
		return "", err
	}
	key := storage.NewKey(up.ContentType)
	f.mu.Lock()
	f.objects[key] = b
	f.mu.Unlock()
	return storage.Ref(key), nil
}

func (f *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// =========================================================================
// WIRING
// =========================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv is the auth, moderation and access services sharing one
// repository and one clock, the way the server wires them.
type testEnv struct {
	users      *fakeUserRepo
	clock      *testClock
	tokens     *auth.TokenService
	auth       *AuthService
	moderation *ModerationService
	access     *AccessService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)

	users := newFakeUserRepo()
	clock := newTestClock()
	logger := newTestLogger()
	opt := WithClock(clock.Now)

	return &testEnv{
		users:      users,
		clock:      clock,
		tokens:     tokens,
		auth:       NewAuthService(users, tokens, auth.NewPasswordService(4), logger, opt),
		moderation: NewModerationService(users, nil, logger, opt),
		access:     NewAccessService(users, nil, logger, opt),
	}
}

// register creates an identity with password "secret-pw".
func (e *testEnv) register(t *testing.T, handle string) *AuthResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterInput{
		Username: handle,
		Email:    handle + "@example.com",
		Password: "secret-pw",
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) login(handle string) (*AuthResult, error) {
	return e.auth.Login(context.Background(), LoginInput{Username: handle, Password: "secret-pw"})
}
