package securestore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/choirapp/internal/errors"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltFileName = "store.salt"
	saltLength   = 16
	fileSuffix   = ".sealed"

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// FileStore keeps one XChaCha20-Poly1305 sealed file per key. The sealing key is derived
// from a passphrase with Argon2id and a random per-directory salt. Each ciphertext is
// bound to its key name as additional data, so files cannot be swapped between keys.
type FileStore struct {
	dir  string
	aead cipher.AEAD
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or initialises) an encrypted store in dir.
func NewFileStore(dir, passphrase string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[securestore NewFileStore] empty directory")
	}
	if passphrase == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[securestore NewFileStore] empty passphrase")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, pkgerrors.Wrap(err, "[securestore NewFileStore] os.MkdirAll")
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFileName))
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[securestore NewFileStore] chacha20poly1305.NewX")
	}

	return &FileStore{dir: dir, aead: aead}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLength {
			return nil, errors.Wrapf(errors.ErrStore, "[securestore] salt file %s is corrupt", path)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, pkgerrors.Wrap(err, "[securestore] read salt")
	}

	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, pkgerrors.Wrap(err, "[securestore] generate salt")
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, pkgerrors.Wrap(err, "[securestore] write salt")
	}
	return salt, nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileSuffix)
}

// Get opens the sealed value stored under key.
func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Join(errors.ErrStore, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return "", errors.Wrapf(errors.ErrStore, "[securestore Get] truncated value for %q", key)
	}
	plain, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(key))
	if err != nil {
		return "", errors.Join(errors.ErrStore, pkgerrors.Wrap(err, "[securestore Get] open"))
	}
	return string(plain), nil
}

// Set seals value under key, replacing the file atomically.
func (s *FileStore) Set(key, value string) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Join(errors.ErrStore, err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return errors.Join(errors.ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error.
func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(errors.ErrStore, err)
	}
	return nil
}
