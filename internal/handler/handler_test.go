package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/handler"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/repository/sqlite"
	"github.com/sakif/cloudtype/internal/service"
	"github.com/sakif/cloudtype/internal/storage"
)

// fakeGitHub stands in for the OAuth provider.
type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

// testAPI mounts the handlers on a router without the guard. Requests
// carry claims injected by asUser.
type testAPI struct {
	router http.Handler
	tokens *auth.TokenService
	authn  *service.AuthService
	github *fakeGitHub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)

	authSvc := service.NewAuthService(db.Users(), tokens, auth.NewPasswordService(4), logger)
	moderation := service.NewModerationService(db.Users(), nil, logger)
	posts := service.NewPostService(db.Posts(), db.Likes(), store, nil, logger)
	gh := &fakeGitHub{}

	authH := handler.NewAuthHandler(authSvc, gh, "http://frontend.example", logger)
	userH := handler.NewUserHandler(authSvc, logger)
	adminH := handler.NewAdminHandler(moderation, logger)
	postH := handler.NewPostHandler(posts, 1<<20, logger)

	r := chi.NewRouter()
	r.Post("/api/auth/register", authH.HandleRegister)
	r.Post("/api/auth/login", authH.HandleLogin)
	r.Get("/auth/github/login", authH.HandleGitHubLogin)
	r.Get("/auth/github/callback", authH.HandleGitHubCallback)
	r.Get("/api/users/me", userH.HandleMe)
	r.Get("/api/users/{username}", userH.HandleProfile)
	r.Post("/api/admin/ban-user", adminH.HandleBan)
	r.Post("/api/admin/unban-user", adminH.HandleUnban)
	r.Post("/api/admin/verify-user", adminH.HandleVerify)
	r.Post("/api/admin/make-admin", adminH.HandleMakeAdmin)
	r.Get("/api/admin/users", adminH.HandleListUsers)
	r.Post("/api/posts", postH.HandleCreate)
	r.Get("/api/posts/feed", postH.HandleFeed)
	r.Post("/api/posts/{id}/like", postH.HandleLike)
	r.Delete("/api/posts/{id}/like", postH.HandleUnlike)
	r.Get("/uploads/{key}", postH.HandleAttachment)

	return &testAPI{router: r, tokens: tokens, authn: authSvc, github: gh}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asUser(req *http.Request, res *service.AuthResult) *http.Request {
	claims := &auth.Claims{
		UserID:   res.User.ID,
		Handle:   res.User.Handle,
		IsAdmin:  res.User.IsAdmin,
		Verified: res.User.Verified,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func (a *testAPI) register(t *testing.T, handle string) *service.AuthResult {
	t.Helper()
	res, err := a.authn.Register(context.Background(), service.RegisterInput{
		Username: handle, Email: handle + "@example.com", Password: "secret-pw",
	})
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

// =========================================================================
// AUTH
// =========================================================================

func TestAuthHandler_RegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(jsonRequest(http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"secret-pw"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reg := decode[service.AuthResult](t, rr)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "alice", reg.User.Handle)

	rr = api.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"secret-pw"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	login := decode[service.AuthResult](t, rr)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestAuthHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"malformed JSON", "/api/auth/register", `{"username":`, http.StatusBadRequest, "validation_error"},
		{"empty body", "/api/auth/login", ``, http.StatusBadRequest, "validation_error"},
		{"missing password", "/api/auth/register", `{"username":"bob","email":"bob@example.com"}`, http.StatusBadRequest, "validation_error"},
		{"duplicate handle", "/api/auth/register", `{"username":"alice","email":"x@example.com","password":"pw"}`, http.StatusConflict, "conflict"},
		{"wrong password", "/api/auth/login", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown handle", "/api/auth/login", `{"username":"nobody","password":"nope"}`, http.StatusUnauthorized, "invalid_credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			api.register(t, "alice")

			rr := api.do(jsonRequest(http.MethodPost, tt.target, tt.body))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantKind, decode[handler.ErrorResponse](t, rr).Error)
		})
	}
}

func TestAuthHandler_LoginBanned(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "bob")
	admin := api.register(t, "root")
	admin.User.IsAdmin = true

	rr := api.do(asUser(jsonRequest(http.MethodPost, "/api/admin/ban-user", `{"username":"bob","duration":0}`), admin))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"bob","password":"secret-pw"}`))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "account_banned", decode[handler.ErrorResponse](t, rr).Error)
}

// =========================================================================
// GITHUB
// =========================================================================

func TestGitHubLogin_SetsStateAndRedirects(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))

	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.Contains(t, rr.Header().Get("Location"), "state="+cookies[0].Value)
}

func callbackRequest(state, cookieState, code string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?state="+state+"&code="+code, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookieState})
	}
	return req
}

func TestGitHubCallback(t *testing.T) {
	api := newTestAPI(t)
	api.github.user = &auth.GitHubUser{ID: 42, Login: "octocat"}

	rr := api.do(callbackRequest("s1", "s1", "code"))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc := rr.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "http://frontend.example/#token="), loc)

	claims, err := api.tokens.Validate(strings.TrimPrefix(loc, "http://frontend.example/#token="))
	require.NoError(t, err)
	assert.Equal(t, "octocat", claims.Handle)
}

func TestGitHubCallback_StateMismatch(t *testing.T) {
	api := newTestAPI(t)
	api.github.user = &auth.GitHubUser{ID: 42, Login: "octocat"}

	assert.Equal(t, http.StatusBadRequest, api.do(callbackRequest("s1", "other", "code")).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(callbackRequest("s1", "", "code")).Code)
}

func TestGitHubCallback_ExchangeFailure(t *testing.T) {
	api := newTestAPI(t)
	api.github.err = errors.New("bad code")

	rr := api.do(callbackRequest("s1", "s1", "code"))

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "http://frontend.example/#error=github_exchange_failed", rr.Header().Get("Location"))
}

// =========================================================================
// USERS
// =========================================================================

func TestUserHandler_MeAndProfile(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), alice))
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[model.User](t, rr)
	assert.Equal(t, "alice@example.com", me.Email)

	rr = api.do(httptest.NewRequest(http.MethodGet, "/api/users/alice", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "alice@example.com", "profiles must not expose the contact")

	rr = api.do(httptest.NewRequest(http.MethodGet, "/api/users/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUserHandler_MeWithoutClaims(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// =========================================================================
// ADMIN
// =========================================================================

func TestAdminHandler_Moderation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register(t, "root")
	api.register(t, "bob")

	steps := []struct {
		target string
		body   string
		check  func(t *testing.T, u *model.User)
	}{
		{"/api/admin/verify-user", `{"username":"bob","verified":true}`, func(t *testing.T, u *model.User) { assert.True(t, u.Verified) }},
		{"/api/admin/make-admin", `{"username":"bob","admin":true}`, func(t *testing.T, u *model.User) { assert.True(t, u.IsAdmin) }},
		{"/api/admin/ban-user", `{"username":"bob","duration":24}`, func(t *testing.T, u *model.User) { assert.NotNil(t, u.BannedUntil) }},
		{"/api/admin/unban-user", `{"username":"bob"}`, func(t *testing.T, u *model.User) { assert.Nil(t, u.BannedUntil) }},
	}

	for _, s := range steps {
		rr := api.do(asUser(jsonRequest(http.MethodPost, s.target, s.body), admin))
		require.Equal(t, http.StatusOK, rr.Code, "%s: %s", s.target, rr.Body.String())
		resp := decode[handler.ModerationResponse](t, rr)
		assert.NotEmpty(t, resp.Message)
		require.NotNil(t, resp.User)
		s.check(t, resp.User)
	}

	rr := api.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), admin))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.User](t, rr), 2)
}

func TestAdminHandler_Errors(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register(t, "root")

	rr := api.do(asUser(jsonRequest(http.MethodPost, "/api/admin/ban-user", `{"username":"ghost","duration":1}`), admin))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(asUser(jsonRequest(http.MethodPost, "/api/admin/ban-user", `{"username":"root","duration":-1}`), admin))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "duration", decode[handler.ErrorResponse](t, rr).Field)
}

// =========================================================================
// POSTS
// =========================================================================

func TestPostHandler_CreateFeedLike(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(jsonRequest(http.MethodPost, "/api/posts", `{"content":"hello"}`), alice))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[handler.CreatePostResponse](t, rr)
	require.NotEmpty(t, created.ID)

	rr = api.do(asUser(jsonRequest(http.MethodPost, "/api/posts",
		`{"content":"a reply","reply_to":"`+created.ID+`"}`), alice))
	require.Equal(t, http.StatusCreated, rr.Code)

	for _, want := range []model.LikeResult{model.LikeAdded, model.LikeAlreadyPresent} {
		rr = api.do(asUser(httptest.NewRequest(http.MethodPost, "/api/posts/"+created.ID+"/like", nil), alice))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, want, decode[handler.LikeResponse](t, rr).Status)
	}

	rr = api.do(asUser(httptest.NewRequest(http.MethodGet, "/api/posts/feed", nil), alice))
	require.Equal(t, http.StatusOK, rr.Code)
	feed := decode[[]model.FeedItem](t, rr)
	require.Len(t, feed, 1, "replies stay out of the feed")
	assert.Equal(t, "alice", feed[0].Username)
	assert.Equal(t, 1, feed[0].LikesCount)
	assert.Equal(t, 1, feed[0].RepliesCount)
	assert.True(t, feed[0].LikedByUser)

	for _, want := range []model.LikeResult{model.LikeRemoved, model.LikeNotPresent} {
		rr = api.do(asUser(httptest.NewRequest(http.MethodDelete, "/api/posts/"+created.ID+"/like", nil), alice))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, want, decode[handler.LikeResponse](t, rr).Status)
	}
}

func TestPostHandler_EmptyPostRejected(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(jsonRequest(http.MethodPost, "/api/posts", `{"content":"   "}`), alice))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostHandler_FeedBadQuery(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(httptest.NewRequest(http.MethodGet, "/api/posts/feed?limit=ten", nil), alice))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "limit", decode[handler.ErrorResponse](t, rr).Field)
}

// A 1x1 transparent GIF.
var tinyGIF = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func multipartPost(t *testing.T, fields map[string]string, fileName string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("image", fileName)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/posts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostHandler_MultipartImage(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(multipartPost(t, map[string]string{"content": "look"}, "pixel.gif", tinyGIF), alice))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[handler.CreatePostResponse](t, rr)
	require.NotNil(t, created.Image)
	require.True(t, strings.HasPrefix(*created.Image, storage.URLPrefix))

	rr = api.do(httptest.NewRequest(http.MethodGet, *created.Image, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/gif", rr.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, tinyGIF, body)
}

func TestPostHandler_AttachmentServedAsSniffedType(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	polyglot := append(append([]byte{}, tinyGIF...), []byte("<script>alert(document.cookie)</script>")...)
	rr := api.do(asUser(multipartPost(t, nil, "pic.html", polyglot), alice))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[handler.CreatePostResponse](t, rr)
	require.NotNil(t, created.Image)
	assert.True(t, strings.HasSuffix(*created.Image, ".gif"), *created.Image)

	rr = api.do(httptest.NewRequest(http.MethodGet, *created.Image, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/gif", rr.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestPostHandler_MultipartRejectsNonImage(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")

	rr := api.do(asUser(multipartPost(t, nil, "notes.gif", []byte("just some text")), alice))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "image", decode[handler.ErrorResponse](t, rr).Field)
}

func TestPostHandler_AttachmentNotFound(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(httptest.NewRequest(http.MethodGet, "/uploads/not-a-key", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
