package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// TestUser represents a provisioned mailbox user.
type TestUser struct {
	Username string
	Password string // plaintext password
}

// DefaultTestUsers returns the standard mailbox users.
// All users have the password "testpass".
func DefaultTestUsers() []TestUser {
	return []TestUser{
		{Username: "alice", Password: "testpass"},
		{Username: "bob", Password: "testpass"},
	}
}

// WriteUsersFile writes users as a YAML user database and returns its path.
func WriteUsersFile(t *testing.T, users []TestUser) string {
	t.Helper()

	sorted := make([]TestUser, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Username < sorted[j].Username })

	var sb strings.Builder
	sb.WriteString("users:\n")
	for _, u := range sorted {
		fmt.Fprintf(&sb, "  %s: %q\n", u.Username, u.Password)
	}

	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatalf("writing users file: %v", err)
	}
	return path
}
