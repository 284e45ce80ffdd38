package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/omnisonic/coda/internal/clock"
)

// Signer mints and checks HMAC download tokens. The token covers the object
// key and the expiry instant, so neither can be swapped after signing.
type Signer struct {
	secret []byte
	clock  clock.Clock
}

func NewSigner(secret string, clk clock.Clock) *Signer {
	return &Signer{secret: []byte(secret), clock: clk}
}

func (s *Signer) sign(key string, expiresAt int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedPath returns a relative download path with expiry and signature
// query parameters.
func (s *Signer) SignedPath(key string, ttlSeconds int64) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	expiresAt := s.clock.Now().Unix() + ttlSeconds
	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expiresAt, 10))
	query.Set("sig", s.sign(key, expiresAt))
	return "/v1/blobs/" + key + "?" + query.Encode(), nil
}

// Verify checks the signature and the deadline for a download request.
func (s *Signer) Verify(key, expires, sig string) error {
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignedURL
	}
	if s.clock.Now().Unix() > expiresAt {
		return ErrBadSignedURL
	}
	expected := s.sign(key, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignedURL
	}
	return nil
}
