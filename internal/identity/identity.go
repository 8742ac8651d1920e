// Package identity holds the Ed25519 key a user signs gateway challenges
// with. The private key is stored as a base64 seed; the ledger records the
// base64 public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoKey is returned when the key file does not exist.
	ErrNoKey = errors.New("no identity key")

	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signature does not match public key")
)

// Generate creates a new private key.
func Generate() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}

// Load reads the private key stored at path.
func Load(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse identity key %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("parse identity key %s: seed has %d bytes", path, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Save writes key to path, readable by the owner only. An existing file is
// only replaced when overwrite is set.
func Save(path string, key ed25519.PrivateKey, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(key.Seed()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("write identity key: %w", err)
	}
	return nil
}

// PublicKey returns the encoded public half of key, as registered on the
// ledger.
func PublicKey(key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey))
}

// Sign signs msg with key.
func Sign(key ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(key, msg)
}

// Verify checks sig over msg against an encoded public key.
func Verify(publicKey string, msg, sig []byte) error {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed public key", ErrBadSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
