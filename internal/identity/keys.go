// Package identity issues and verifies the session tokens that tell the
// challenge service which user is acting.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFile = "daygoal-session.key"
	keyBits = 2048
)

// KeyManager owns the RSA key pair used to sign session tokens.
type KeyManager struct {
	dir string
	key *rsa.PrivateKey
}

// NewKeyManager creates a KeyManager rooted at dir. Call LoadOrCreate before
// using the key.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// Key returns the signing key. Nil until LoadOrCreate succeeds.
func (m *KeyManager) Key() *rsa.PrivateKey {
	return m.key
}

// LoadOrCreate loads the key from disk, generating and persisting a new one
// when none exists yet.
func (m *KeyManager) LoadOrCreate() error {
	if err := m.load(); err == nil {
		return nil
	}
	return m.create()
}

func (m *KeyManager) load() error {
	keyPEM, err := os.ReadFile(filepath.Join(m.dir, keyFile))
	if err != nil {
		return err
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("no PEM block in %s", keyFile)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse session key: %w", err)
	}
	m.key = key
	return nil
}

func (m *KeyManager) create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generate session key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(m.dir, keyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write session key: %w", err)
	}
	m.key = key
	return nil
}
