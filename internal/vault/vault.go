// Package vault seals secrets at rest for unity.
// User refresh tokens are encrypted with AES-256-GCM under a key derived
// from SECRET_KEY_BASE via Argon2id. The salt and a key check value live in
// a small key file inside the data directory.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	KeyFileName = "unity.key"

	// Argon2id parameters: m=64MB, t=3, p=4
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12

	checkLabel = "unity:key-check"
)

// ErrWrongSecret is returned when SECRET_KEY_BASE does not match the key file.
var ErrWrongSecret = errors.New("vault: secret key base does not match key file")

// Sealed is one encrypted value.
type Sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type keyFile struct {
	Salt  []byte `json:"salt"`
	Check Sealed `json:"check"`
}

// Sealer encrypts and decrypts values with one derived key.
type Sealer struct {
	mu  sync.RWMutex
	key []byte
}

// DeriveKey derives a 256-bit key from a secret and salt using Argon2id.
func DeriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewSealer returns a sealer for secret and salt without touching disk.
func NewSealer(secret string, salt []byte) *Sealer {
	return &Sealer{key: DeriveKey(secret, salt)}
}

// Open loads the key file at path, creating it with a fresh salt when it
// does not exist, and verifies that secret derives the same key.
func Open(path, secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("vault: secret key base is empty")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return create(path, secret)
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	s := NewSealer(secret, kf.Salt)
	if _, err := s.Unseal(checkLabel, kf.Check); err != nil {
		s.Close()
		return nil, ErrWrongSecret
	}
	return s, nil
}

func create(path, secret string) (*Sealer, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	s := NewSealer(secret, salt)

	check, err := s.Seal(checkLabel, []byte(checkLabel))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(keyFile{Salt: salt, Check: check})
	if err != nil {
		return nil, fmt.Errorf("marshaling key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return s, nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext. label is bound as additional data and must be
// passed again to Unseal.
func (s *Sealer) Seal(label string, plaintext []byte) (Sealed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gcm, err := s.gcm()
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("generating nonce: %w", err)
	}
	return Sealed{Nonce: nonce, Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(label))}, nil
}

// Unseal decrypts a value sealed under label.
func (s *Sealer) Unseal(label string, sealed Sealed) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("decrypting %s: bad nonce length %d", label, len(sealed.Nonce))
	}
	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", label, err)
	}
	return plaintext, nil
}

// Close zeroes the key. The sealer is unusable afterwards.
func (s *Sealer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
}

// HashSecret returns a redaction-safe hash prefix for a secret value.
// Format: sha256:<first-8-chars-of-hex-hash>
func HashSecret(secret []byte) string {
	h := sha256.Sum256(secret)
	return "sha256:" + hex.EncodeToString(h[:])[:8]
}
