package secure

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Challenge sizes in bytes.
const (
	NonceSize  = 32
	SecretSize = 32
	IVSize     = 16
)

// ErrMalformedChallenge is returned for a challenge that does not parse.
var ErrMalformedChallenge = errors.New("malformed challenge")

// Challenge is the client's opening message of the secure upgrade:
// a nonce the server must echo, plus the secret and IV of the session cipher.
type Challenge struct {
	Nonce  []byte
	Secret []byte
	IV     []byte
}

// NewChallenge creates a challenge from fresh random bytes.
func NewChallenge() (*Challenge, error) {
	c := &Challenge{
		Nonce:  make([]byte, NonceSize),
		Secret: make([]byte, SecretSize),
		IV:     make([]byte, IVSize),
	}
	for _, b := range [][]byte{c.Nonce, c.Secret, c.IV} {
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generating challenge: %w", err)
		}
	}
	return c, nil
}

// String renders the challenge as "ok <nonce> <secret> <iv>", each base64.
func (c *Challenge) String() string {
	enc := base64.StdEncoding
	return "ok " + enc.EncodeToString(c.Nonce) + " " + enc.EncodeToString(c.Secret) + " " + enc.EncodeToString(c.IV)
}

// ParseChallenge parses the output of Challenge.String.
func ParseChallenge(s string) (*Challenge, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 || fields[0] != "ok" {
		return nil, ErrMalformedChallenge
	}

	var parts [3][]byte
	sizes := [3]int{NonceSize, SecretSize, IVSize}
	for i := range parts {
		b, err := base64.StdEncoding.DecodeString(fields[i+1])
		if err != nil || len(b) != sizes[i] {
			return nil, ErrMalformedChallenge
		}
		parts[i] = b
	}
	return &Challenge{Nonce: parts[0], Secret: parts[1], IV: parts[2]}, nil
}

// Cipher derives the session cipher for role.
func (c *Challenge) Cipher(role Role) (*SessionCipher, error) {
	return NewSessionCipher(c.Secret, c.IV, role)
}

// Response is the server's proof of key possession: "ok <nonce>".
func (c *Challenge) Response() string {
	return "ok " + base64.StdEncoding.EncodeToString(c.Nonce)
}

// VerifyResponse reports whether line echoes exactly this challenge's nonce.
func (c *Challenge) VerifyResponse(line string) bool {
	return subtle.ConstantTimeCompare([]byte(line), []byte(c.Response())) == 1
}
