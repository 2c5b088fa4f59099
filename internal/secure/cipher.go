package secure

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// Role selects which direction of a session a cipher encrypts.
type Role int

const (
	// RoleClient encrypts client-to-server traffic.
	RoleClient Role = iota
	// RoleServer encrypts server-to-client traffic.
	RoleServer
)

const (
	labelClientToServer = "dmail client to server"
	labelServerToClient = "dmail server to client"
)

// SessionCipher is the symmetric cipher of an upgraded session. Each
// direction has its own ChaCha20 keystream derived from the shared secret
// and IV, and each stream continues across lines, so no keystream bytes
// are ever reused. Lines must be opened in the order they were sealed.
type SessionCipher struct {
	mu  sync.Mutex
	enc *chacha20.Cipher
	dec *chacha20.Cipher
}

// NewSessionCipher derives the session cipher for role from the shared
// secret and IV exchanged in the challenge.
func NewSessionCipher(secret, iv []byte, role Role) (*SessionCipher, error) {
	c2s, err := deriveStream(secret, iv, labelClientToServer)
	if err != nil {
		return nil, err
	}
	s2c, err := deriveStream(secret, iv, labelServerToClient)
	if err != nil {
		return nil, err
	}

	if role == RoleServer {
		return &SessionCipher{enc: s2c, dec: c2s}, nil
	}
	return &SessionCipher{enc: c2s, dec: s2c}, nil
}

func deriveStream(secret, iv []byte, label string) (*chacha20.Cipher, error) {
	r := hkdf.New(sha256.New, secret, iv, []byte(label))
	material := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return chacha20.NewUnauthenticatedCipher(material[:chacha20.KeySize], material[chacha20.KeySize:])
}

// Seal encrypts plaintext with the outgoing keystream.
func (s *SessionCipher) Seal(plaintext []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(plaintext))
	s.enc.XORKeyStream(out, plaintext)
	return out
}

// Open decrypts ciphertext with the incoming keystream.
func (s *SessionCipher) Open(ciphertext []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(ciphertext))
	s.dec.XORKeyStream(out, ciphertext)
	return out
}

// Codec encodes protocol lines as base64 of the sealed line.
type Codec struct {
	cipher *SessionCipher
}

// NewCodec wraps a session cipher as a line codec.
func NewCodec(c *SessionCipher) *Codec {
	return &Codec{cipher: c}
}

// Encode seals a line for the wire.
func (c *Codec) Encode(line string) (string, error) {
	return base64.StdEncoding.EncodeToString(c.cipher.Seal([]byte(line))), nil
}

// Decode opens a line read from the wire. Malformed input is rejected
// before it touches the keystream.
func (c *Codec) Decode(line string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return "", err
	}
	return string(c.cipher.Open(raw)), nil
}
