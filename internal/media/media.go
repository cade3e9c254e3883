// Package media stores message attachments and profile photos.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pigeon/internal/identity"
)

var (
	// ErrUnsupportedType is returned for content types outside the allowlist.
	ErrUnsupportedType = errors.New("media: unsupported content type")
	// ErrTooLarge is returned when an upload exceeds the size cap.
	ErrTooLarge = errors.New("media: file too large")
)

// MaxUploadBytes caps a single upload.
const MaxUploadBytes = 10 << 20

// Store persists uploaded files and returns their public URL.
type Store interface {
	Save(ctx context.Context, name, contentType string, size int64, r io.Reader) (string, error)
}

var extByType = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// KindOf classifies a content type for message records. Returns "" for types
// outside the allowlist.
func KindOf(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if _, ok := extByType[ct]; !ok {
		return ""
	}
	if strings.HasPrefix(ct, "image/") {
		return "image"
	}
	return "file"
}

// FSStore writes files under a root directory and serves them from a URL
// prefix. Names are server-assigned ULIDs so uploads can never collide or
// traverse paths.
type FSStore struct {
	root   string
	prefix string
	now    func() time.Time
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root, urlPrefix string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create root: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &FSStore{root: root, prefix: urlPrefix, now: time.Now}, nil
}

// Root exposes the backing directory for static file serving.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) Save(ctx context.Context, name, contentType string, size int64, r io.Reader) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := extByType[ct]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size > MaxUploadBytes {
		return "", ErrTooLarge
	}

	id, err := identity.NewULID(s.now())
	if err != nil {
		return "", err
	}
	fname := id + ext
	path := filepath.Join(s.root, fname)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("media: create file: %w", err)
	}

	// Enforce the cap on the actual stream, not just the declared size.
	n, err := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("media: write file: %w", err)
	}
	if n > MaxUploadBytes {
		os.Remove(path)
		return "", ErrTooLarge
	}

	return s.prefix + fname, nil
}
