// Package storage keeps post attachments outside the database. Posts store
// only the returned reference ("/uploads/<key>").
package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is where attachments are served from.
const URLPrefix = "/uploads/"

// ErrNotFound is returned by Open for an unknown key.
var ErrNotFound = errors.New("attachment not found")

// Upload is an incoming attachment.
type Upload struct {
	Name        string // client file name, informational only
	Body        io.Reader
	Size        int64 // -1 when unknown
	ContentType string // sniffed type, picks the key extension
}

// Store is an attachment backend.
type Store interface {
	// Save writes the upload under a fresh key and returns its reference.
	Save(ctx context.Context, up Upload) (string, error)
	// Open streams a stored attachment. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// imageTypes maps the content types the server accepts to the extension
// a key carries. ContentTypeFor is its inverse.
var imageTypes = map[string]string{
	"image/png":    ".png",
	"image/jpeg":   ".jpg",
	"image/gif":    ".gif",
	"image/webp":   ".webp",
	"image/bmp":    ".bmp",
	"image/x-icon": ".ico",
}

// NewKey builds an object key from a random UUID and the extension for
// contentType. The client file name never picks the extension, so a key
// always serves back as the type that was sniffed on upload. Unknown
// types get no extension.
func NewKey(contentType string) string {
	return uuid.NewString() + imageTypes[contentType]
}

// ContentTypeFor returns the type a key is served with. Keys without a
// known image extension are application/octet-stream.
func ContentTypeFor(key string) string {
	for ctype, ext := range imageTypes {
		if strings.HasSuffix(key, ext) {
			return ctype
		}
	}
	return "application/octet-stream"
}

// Ref turns an object key into the reference stored on a post.
func Ref(key string) string {
	return URLPrefix + key
}

var keyPattern = regexp.MustCompile(`^[0-9a-f-]{36}(\.[a-z0-9]{1,10})?$`)

// ValidKey reports whether key has the shape NewKey produces. Handlers
// check it before Open so a request can never address a path outside the
// store.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
