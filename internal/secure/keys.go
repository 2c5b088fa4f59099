// Package secure provides the key material and primitives behind the
// mailbox-access secure session: RSA key storage, the challenge exchanged
// during the upgrade, the symmetric session cipher and message hashing.
package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrKeyNotFound is returned when no key file exists for a component id.
var ErrKeyNotFound = errors.New("key not found")

// KeyStore loads component keys from disk. Private keys are kept sealed
// in memguard enclaves and only opened for the duration of a decryption.
//
// Private keys are read from <privateDir>/<id>.pem or <id>.der (PKCS#8 or
// PKCS#1). Public keys are read from <publicDir>/<id>_pub.pem or
// <id>_pub.der (PKIX or PKCS#1).
type KeyStore struct {
	privateDir string
	publicDir  string

	mu      sync.Mutex
	private map[string]*memguard.Enclave
	public  map[string]*rsa.PublicKey
}

// NewKeyStore creates a key store over the given directories.
func NewKeyStore(privateDir, publicDir string) *KeyStore {
	return &KeyStore{
		privateDir: privateDir,
		publicDir:  publicDir,
		private:    make(map[string]*memguard.Enclave),
		public:     make(map[string]*rsa.PublicKey),
	}
}

// PublicKey returns the public key of component id.
func (k *KeyStore) PublicKey(id string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if pub, ok := k.public[id]; ok {
		return pub, nil
	}

	der, err := readKeyFile(k.publicDir, id+"_pub", "PUBLIC KEY", "RSA PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	pub, err := parsePublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", id, err)
	}
	k.public[id] = pub
	return pub, nil
}

// LoadPrivateKey reads, validates and seals the private key of id.
// Decrypt loads keys on first use; calling this at startup surfaces
// configuration errors early.
func (k *KeyStore) LoadPrivateKey(id string) error {
	_, err := k.enclave(id)
	return err
}

func (k *KeyStore) enclave(id string) (*memguard.Enclave, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if e, ok := k.private[id]; ok {
		return e, nil
	}

	der, err := readKeyFile(k.privateDir, id, "PRIVATE KEY", "RSA PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	if _, err := parsePrivateKey(der); err != nil {
		memguard.WipeBytes(der)
		return nil, fmt.Errorf("private key %s: %w", id, err)
	}
	// NewEnclave wipes der.
	e := memguard.NewEnclave(der)
	k.private[id] = e
	return e, nil
}

// Decrypt decrypts an RSA-OAEP (SHA-256) ciphertext with the private key of id.
func (k *KeyStore) Decrypt(id string, ciphertext []byte) ([]byte, error) {
	e, err := k.enclave(id)
	if err != nil {
		return nil, err
	}

	buf, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	priv, err := parsePrivateKey(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

// Close drops every cached key.
func (k *KeyStore) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.private = make(map[string]*memguard.Enclave)
	k.public = make(map[string]*rsa.PublicKey)
	return nil
}

// Encrypt encrypts plaintext for the holder of pub with RSA-OAEP (SHA-256).
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

// readKeyFile returns the DER bytes of <dir>/<name>.pem or <dir>/<name>.der.
func readKeyFile(dir, name string, pemTypes ...string) ([]byte, error) {
	pemPath := filepath.Join(dir, name+".pem")
	data, err := os.ReadFile(pemPath)
	if err == nil {
		block, _ := pem.Decode(data)
		memguard.WipeBytes(data)
		if block == nil {
			return nil, fmt.Errorf("%s: no PEM block", pemPath)
		}
		for _, t := range pemTypes {
			if block.Type == t {
				return block.Bytes, nil
			}
		}
		return nil, fmt.Errorf("%s: unexpected PEM type %q", pemPath, block.Type)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	derPath := filepath.Join(dir, name+".der")
	data, err = os.ReadFile(derPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return nil, err
	}
	return data, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}
