package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
)

// DefaultKeyBits is the RSA modulus size used by keygen.
const DefaultKeyBits = 2048

// GenerateKey creates a new RSA key pair.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// WriteKeyPair writes key as <privateDir>/<id>.pem (PKCS#8, mode 0600) and
// its public half as <publicDir>/<id>_pub.pem (PKIX).
func WriteKeyPair(privateDir, publicDir, id string, key *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}
	buf := memguard.NewBufferFromBytes(der)
	defer buf.Destroy()

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}

	if err := os.MkdirAll(privateDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		return err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: buf.Bytes()})
	defer memguard.WipeBytes(privPEM)
	if err := os.WriteFile(filepath.Join(privateDir, id+".pem"), privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(publicDir, id+"_pub.pem"), pubPEM, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}
