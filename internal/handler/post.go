package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/model"
	"github.com/sakif/cloudtype/internal/service"
	"github.com/sakif/cloudtype/internal/storage"
)

// PostHandler serves posts, the feed, likes and attachment downloads.
type PostHandler struct {
	posts          *service.PostService
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewPostHandler(posts *service.PostService, maxUploadBytes int64, logger *slog.Logger) *PostHandler {
	return &PostHandler{posts: posts, maxUploadBytes: maxUploadBytes, logger: logger}
}

type createPostRequest struct {
	Content  string `json:"content"`
	ReplyTo  string `json:"reply_to"`
	RepostOf string `json:"repost_of"`
}

// CreatePostResponse mirrors what the frontend expects after posting.
type CreatePostResponse struct {
	ID      string  `json:"id"`
	Message string  `json:"message"`
	Image   *string `json:"image,omitempty"`
}

// LikeResponse reports whether a like call changed anything.
type LikeResponse struct {
	Message string           `json:"message"`
	Status  model.LikeResult `json:"status"`
}

// HandleCreate stores a post.
//
// HTTP: POST /api/posts
//
// Accepts either a JSON body or multipart/form-data with the fields
// content, reply_to, repost_of and an optional "image" file.
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated())
		return
	}

	var in service.CreatePostInput
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			writeError(w, uploadError(err, h.maxUploadBytes))
			return
		}
		defer r.MultipartForm.RemoveAll()

		in.Content = r.FormValue("content")
		in.ReplyTo = r.FormValue("reply_to")
		in.RepostOf = r.FormValue("repost_of")

		file, header, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			writeError(w, apperror.ValidationFailed("image", "unreadable image upload"))
			return
		default:
			defer file.Close()
			up, err := imageUpload(file, header.Filename, header.Size)
			if err != nil {
				writeError(w, err)
				return
			}
			in.Attachment = up
		}
	} else {
		var req createPostRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in.Content, in.ReplyTo, in.RepostOf = req.Content, req.ReplyTo, req.RepostOf
	}

	post, err := h.posts.CreatePost(r.Context(), claims.UserID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatePostResponse{
		ID:      post.ID,
		Message: "Post created successfully",
		Image:   post.Image,
	})
}

// HandleFeed returns top-level posts for the caller.
//
// HTTP: GET /api/posts/feed?limit=20&offset=0
func (h *PostHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated())
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.posts.Feed(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: POST /api/posts/{id}/like
func (h *PostHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	h.like(w, r, true)
}

// HTTP: DELETE /api/posts/{id}/like
func (h *PostHandler) HandleUnlike(w http.ResponseWriter, r *http.Request) {
	h.like(w, r, false)
}

func (h *PostHandler) like(w http.ResponseWriter, r *http.Request, add bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated())
		return
	}
	postID := chi.URLParam(r, "id")

	var (
		res model.LikeResult
		err error
		msg string
	)
	if add {
		res, err = h.posts.Like(r.Context(), claims.UserID, postID)
		msg = "Post liked successfully"
	} else {
		res, err = h.posts.Unlike(r.Context(), claims.UserID, postID)
		msg = "Post unliked successfully"
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LikeResponse{Message: msg, Status: res})
}

// HandleAttachment streams a stored attachment.
//
// HTTP: GET /uploads/{key}
func (h *PostHandler) HandleAttachment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	att, err := h.posts.Open(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer att.Body.Close()

	w.Header().Set("Content-Type", storage.ContentTypeFor(key))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	// Keys are random and never reused.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, att.Body); err != nil {
		h.logger.Warn("attachment stream interrupted", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// imageUpload sniffs the first bytes of an upload and rejects anything
// that is not an image.
func imageUpload(file io.Reader, name string, size int64) (*storage.Upload, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperror.ValidationFailed("image", "unreadable image upload")
	}
	head = head[:n]

	ctype := http.DetectContentType(head)
	if !strings.HasPrefix(ctype, "image/") {
		return nil, apperror.ValidationFailed("image", "only image uploads are allowed")
	}
	return &storage.Upload{
		Name:        name,
		Body:        io.MultiReader(bytes.NewReader(head), file),
		Size:        size,
		ContentType: ctype,
	}, nil
}

func uploadError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperror.ValidationFailed("image", "upload must be at most "+strconv.FormatInt(limit, 10)+" bytes")
	}
	return apperror.ValidationFailed("", "invalid multipart form")
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
