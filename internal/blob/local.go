package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// localStore keeps objects on the local filesystem. Content type rides along
// in a sidecar file so Get can restore the original header.
type localStore struct {
	dir    string
	signer *Signer
	cdnURL string
	log    *zap.Logger
}

func NewLocalStore(dir, cdnURL string, signer *Signer, log *zap.Logger) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &localStore{
		dir:    dir,
		signer: signer,
		cdnURL: strings.TrimRight(cdnURL, "/"),
		log:    log.Named("blob.local"),
	}, nil
}

func (s *localStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *localStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	if contentType != "" {
		if err := os.WriteFile(path+".ctype", []byte(contentType), 0o644); err != nil {
			return "", err
		}
	}
	s.log.Debug("stored object", zap.String("key", key), zap.Int("bytes", len(data)))
	if s.cdnURL != "" {
		return s.cdnURL + "/" + key, nil
	}
	return "/v1/blobs/" + key, nil
}

func (s *localStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if !validKey(key) {
		return nil, "", ErrInvalidKey
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	contentType := "application/octet-stream"
	if meta, err := os.ReadFile(s.path(key) + ".ctype"); err == nil && len(meta) > 0 {
		contentType = string(meta)
	}
	return data, contentType, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	_ = os.Remove(s.path(key) + ".ctype")
	return nil
}

func (s *localStore) SignedDownloadURL(key string, ttlSeconds int64) (string, error) {
	return s.signer.SignedPath(key, ttlSeconds)
}
