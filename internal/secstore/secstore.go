// Package secstore encrypts the on-disk state of every core store. Each blob
// is an AES-256-GCM frame whose key is derived from the process-wide secret,
// salted with the owning store's name so stores cannot decrypt each other's
// files.
package secstore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/scrypt"

	coreerrors "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

// Frame layout: magic(4) || version(1) || iv(12) || tag(16) || ciphertext.
// The GCM tag authenticates the ciphertext and the version byte.
const (
	frameVersion = 1

	ivLen  = 12
	tagLen = 16

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
	keyLen  = 32

	// MinSecretLen is the shortest acceptable process secret.
	MinSecretLen = 32
)

var magic = []byte("C0D3")

const headerLen = 4 + 1 + ivLen + tagLen

// Store derives per-store-name keys from a single process secret and seals or
// opens encrypted frames. A nil *Store behaves as "no key configured": every
// operation fails with a key error, which lets callers treat encryption as
// strictly required without nil checks.
type Store struct {
	mu     sync.Mutex
	secret []byte
	keys   map[string][]byte
	logger logging.Logger
}

// New validates the process secret and returns a ready Store. Secrets
// shorter than MinSecretLen are refused outright rather than silently
// weakening the derived keys.
func New(secret string, logger logging.Logger) (*Store, error) {
	if len(secret) < MinSecretLen {
		return nil, coreerrors.NewConfigError(
			fmt.Sprintf("encryption secret must be at least %d bytes, got %d", MinSecretLen, len(secret)))
	}
	return &Store{
		secret: []byte(secret),
		keys:   make(map[string][]byte),
		logger: logging.OrNop(logger),
	}, nil
}

// Available reports whether a key is configured.
func (s *Store) Available() bool {
	return s != nil && len(s.secret) > 0
}

// deriveKey returns the cached scrypt key for storeName, deriving it on
// first use. scrypt at these parameters costs ~50ms, so the cache matters
// for stores that seal on every write.
func (s *Store) deriveKey(storeName string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[storeName]; ok {
		return key, nil
	}
	key, err := scrypt.Key(s.secret, []byte(storeName), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key for %s: %w", storeName, err)
	}
	s.keys[storeName] = key
	return key, nil
}

// Encrypt seals plaintext into a framed blob for the named store.
func (s *Store) Encrypt(storeName string, plaintext []byte) ([]byte, error) {
	if !s.Available() {
		return nil, coreerrors.NewKeyError(storeName)
	}
	gcm, err := s.aead(storeName)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, []byte{frameVersion})
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	frame := make([]byte, 0, headerLen+len(ct))
	frame = append(frame, magic...)
	frame = append(frame, frameVersion)
	frame = append(frame, iv...)
	frame = append(frame, tag...)
	frame = append(frame, ct...)
	return frame, nil
}

// Decrypt opens a framed blob. Corrupt, truncated, tampered, or
// wrong-version frames all fail with a corrupt error; a missing key fails
// with a key error.
func (s *Store) Decrypt(storeName string, frame []byte) ([]byte, error) {
	if !s.Available() {
		return nil, coreerrors.NewKeyError(storeName)
	}
	if len(frame) < headerLen {
		return nil, coreerrors.NewCorruptError(
			fmt.Sprintf("%s: frame truncated at %d bytes", storeName, len(frame)), nil)
	}
	if !bytes.Equal(frame[:4], magic) {
		return nil, coreerrors.NewCorruptError(storeName+": bad magic", nil)
	}
	version := frame[4]
	if version != frameVersion {
		return nil, coreerrors.NewCorruptError(
			fmt.Sprintf("%s: unsupported frame version %d", storeName, version), nil)
	}

	iv := frame[5 : 5+ivLen]
	tag := frame[5+ivLen : headerLen]
	ct := frame[headerLen:]

	gcm, err := s.aead(storeName)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, []byte{version})
	if err != nil {
		return nil, coreerrors.NewCorruptError(storeName+": authentication failed", err)
	}
	return plaintext, nil
}

func (s *Store) aead(storeName string) (cipher.AEAD, error) {
	key, err := s.deriveKey(storeName)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// WriteFile seals plaintext and writes the frame atomically.
func (s *Store) WriteFile(path, storeName string, plaintext []byte) error {
	frame, err := s.Encrypt(storeName, plaintext)
	if err != nil {
		return err
	}
	return filestore.AtomicWrite(path, frame, 0o600)
}

// ReadFile loads and opens the frame at path. A missing file returns
// (nil, nil) so stores can treat first boot as an empty state.
func (s *Store) ReadFile(path, storeName string) ([]byte, error) {
	frame, err := filestore.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	return s.Decrypt(storeName, frame)
}
