// Package testutil provides test fixtures: keys, users and a recording delivery agent.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var (
	keyMu    sync.Mutex
	keyCache = map[string]*rsa.PrivateKey{}
)

// Key returns a 2048-bit RSA key for id, generated once per test binary.
func Key(t *testing.T, id string) *rsa.PrivateKey {
	t.Helper()

	keyMu.Lock()
	defer keyMu.Unlock()

	if k, ok := keyCache[id]; ok {
		return k
	}
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key for %s: %v", id, err)
	}
	keyCache[id] = k
	return k
}

// KeyDirs holds the directories written by SetupKeys.
type KeyDirs struct {
	Private string
	Public  string
}

// SetupKeys writes a key pair for every id into a fresh key layout:
//
//	<tmp>/server/<id>.pem      PKCS#8 private key
//	<tmp>/client/<id>_pub.pem  PKIX public key
func SetupKeys(t *testing.T, ids ...string) KeyDirs {
	t.Helper()

	base := t.TempDir()
	dirs := KeyDirs{
		Private: filepath.Join(base, "server"),
		Public:  filepath.Join(base, "client"),
	}
	for _, d := range []string{dirs.Private, dirs.Public} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("creating %s: %v", d, err)
		}
	}

	for _, id := range ids {
		key := Key(t, id)

		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("encoding private key: %v", err)
		}
		writePEM(t, filepath.Join(dirs.Private, id+".pem"), "PRIVATE KEY", der)

		pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Fatalf("encoding public key: %v", err)
		}
		writePEM(t, filepath.Join(dirs.Public, id+"_pub.pem"), "PUBLIC KEY", pub)
	}
	return dirs
}

// WritePublicKey overwrites the public key of id with the public half of
// the key generated for other, simulating a mismatched key pair.
func WritePublicKey(t *testing.T, dirs KeyDirs, id, other string) {
	t.Helper()

	pub, err := x509.MarshalPKIXPublicKey(&Key(t, other).PublicKey)
	if err != nil {
		t.Fatalf("encoding public key: %v", err)
	}
	writePEM(t, filepath.Join(dirs.Public, id+"_pub.pem"), "PUBLIC KEY", pub)
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
