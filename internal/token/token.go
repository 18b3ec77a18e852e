// Package token covers the two token needs of the engine: opaque publisher
// API tokens and HMAC signatures on proxy event paths.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PublisherTokenLength is the length of the opaque bearer tokens handed to
// publishers.
const PublisherTokenLength = 40

// GeneratePublisherToken returns a new opaque 40-character hex token.
func GeneratePublisherToken() (string, error) {
	buf := make([]byte, PublisherTokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignPath computes the HMAC-SHA256 signature carried as the `sig` query
// parameter on view and click proxy URLs. The path must be the URL path as
// routed, e.g. "/proxy/view/ad-1/0190.../".
func SignPath(secret, path string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPath reports whether sig is a valid signature for path. Comparison
// is constant time.
func VerifyPath(secret, path, sig string) bool {
	want := SignPath(secret, path)
	return hmac.Equal([]byte(want), []byte(sig))
}
