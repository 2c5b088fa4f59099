package secure

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// Hasher computes keyed message authenticators (HMAC-SHA256, base64).
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher with a copy of key.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) == 0 {
		return nil, errors.New("empty hmac key")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Hasher{key: k}, nil
}

// LoadHasher reads a key file holding either base64 text or raw bytes.
func LoadHasher(path string) (*Hasher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hmac key: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && len(decoded) > 0 {
		return NewHasher(decoded)
	}
	return NewHasher(data)
}

// Sum returns the base64 HMAC of data.
func (h *Hasher) Sum(data []byte) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tag is the HMAC of data.
func (h *Hasher) Verify(data []byte, tag string) bool {
	want, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), want)
}
