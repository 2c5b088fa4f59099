// Package users provides the user database of a mailbox server.
package users

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Authentication errors. Their text is the reply sent to a DMAP client.
var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrWrongPassword = errors.New("wrong password")
)

// Store holds the provisioned users and their passwords. Passwords are
// stored in plain text or as bcrypt hashes. A Store is read-only after
// construction and safe for concurrent use.
type Store struct {
	passwords map[string]string
}

type file struct {
	Users map[string]string `yaml:"users"`
}

// New creates a store from a name to password map.
func New(passwords map[string]string) *Store {
	s := &Store{passwords: make(map[string]string, len(passwords))}
	for name, pw := range passwords {
		s.passwords[name] = pw
	}
	return s
}

// LoadFile reads a YAML user database of the form
//
//	users:
//	  alice: "secret"
//	  bob: "$2a$10$..."
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users file: %w", err)
	}
	return New(f.Users), nil
}

// Exists reports whether name is a provisioned user.
func (s *Store) Exists(name string) bool {
	_, ok := s.passwords[name]
	return ok
}

// Len returns the number of provisioned users.
func (s *Store) Len() int {
	return len(s.passwords)
}

// Authenticate checks password for name.
func (s *Store) Authenticate(name, password string) error {
	stored, ok := s.passwords[name]
	if !ok {
		return ErrUnknownUser
	}

	if isBcrypt(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return ErrWrongPassword
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
