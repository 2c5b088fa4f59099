package users

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/dmaild/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s := New(map[string]string{
		"alice": "testpass",
		"bob":   string(hash),
	})

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  error
	}{
		{"plain ok", "alice", "testpass", nil},
		{"plain wrong", "alice", "nope", ErrWrongPassword},
		{"bcrypt ok", "bob", "hunter2", nil},
		{"bcrypt wrong", "bob", "testpass", ErrWrongPassword},
		{"unknown", "carol", "testpass", ErrUnknownUser},
		{"empty password", "alice", "", ErrWrongPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Authenticate(tt.user, tt.password); !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExists(t *testing.T) {
	s := New(map[string]string{"alice": "x"})
	if !s.Exists("alice") {
		t.Error("alice should exist")
	}
	if s.Exists("bob") {
		t.Error("bob should not exist")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d", s.Len())
	}
}

func TestNewCopiesMap(t *testing.T) {
	m := map[string]string{"alice": "x"}
	s := New(m)
	m["bob"] = "y"
	if s.Exists("bob") {
		t.Error("store shares the caller's map")
	}
}

func TestLoadFile(t *testing.T) {
	path := testutil.WriteUsersFile(t, testutil.DefaultTestUsers())

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if err := s.Authenticate("bob", "testpass"); err != nil {
		t.Errorf("Authenticate(bob) = %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("users: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	s := New(map[string]string{"alice": h})
	if err := s.Authenticate("alice", "secret"); err != nil {
		t.Errorf("Authenticate with hashed password = %v", err)
	}
}
