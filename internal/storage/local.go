package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Store = (*Local)(nil)

// Local stores attachments as files in a directory.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Save(_ context.Context, up Upload) (string, error) {
	key := NewKey(up.ContentType)
	f, err := os.Create(filepath.Join(l.dir, key))
	if err != nil {
		return "", fmt.Errorf("storage: creating %s: %w", key, err)
	}
	if _, err := io.Copy(f, up.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: closing %s: %w", key, err)
	}
	return Ref(key), nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: opening %s: %w", key, err)
	}
	return f, nil
}
