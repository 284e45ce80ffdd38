package blob

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gosimple/slug"
)

var (
	ErrInvalidKey   = errors.New("blob: invalid object key")
	ErrNotFound     = errors.New("blob: object not found")
	ErrBadSignedURL = errors.New("blob: signed url invalid or expired")
)

// Store persists export artifacts and hands out expiring download links.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error

	// SignedDownloadURL returns a path clients can fetch without credentials
	// until the deadline passes.
	SignedDownloadURL(key string, ttlSeconds int64) (string, error)
}

// ObjectKey builds a stable storage key from free-form parts. Each part is
// slugified so titles with spaces or unicode stay URL- and path-safe; a file
// extension on a part survives as a real extension instead of being folded
// into the slug.
func ObjectKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := slugFilename(part); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return strings.Join(cleaned, "/")
}

func slugFilename(part string) string {
	ext := path.Ext(part)
	stem := slug.Make(strings.TrimSuffix(part, ext))
	suffix := slug.Make(ext)
	if stem == "" || suffix == "" {
		return slug.Make(part)
	}
	return stem + "." + suffix
}

// validKey rejects empty keys and any traversal attempt.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}
