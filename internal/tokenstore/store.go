// Package tokenstore persists the session's OAuth tokens as a single
// obfuscated record.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/gcal-companion/internal/security"
)

const recordFile = "token.enc"

// Tokens is the persisted part of a session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsZero reports whether nothing is stored.
func (t Tokens) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.ExpiresAt.IsZero()
}

// Store is the persistence contract the auth session depends on.
type Store interface {
	Save(Tokens) error
	// Load never fails: missing or undecodable state yields zero Tokens.
	Load() Tokens
	Clear() error
}

// record is the on-disk shape. expires_at uses RFC 3339 with nanoseconds so
// it round-trips exactly.
type record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// FileStore keeps the record in dir/token.enc, sealed with a TokenEncryptor.
type FileStore struct {
	mu        sync.Mutex
	path      string
	encryptor *security.TokenEncryptor
	logger    *security.SecureLogger
}

// NewFileStore prepares dir and the encryptor that protects the record.
func NewFileStore(dir string, logger *security.SecureLogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	encryptor, err := security.NewTokenEncryptor(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}

	if logger == nil {
		logger = security.NewSecureLogger(false)
	}

	return &FileStore{
		path:      filepath.Join(dir, recordFile),
		encryptor: encryptor,
		logger:    logger,
	}, nil
}

// Path returns the record location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes all three values in one record. The record is written to a
// temporary file and renamed over the old one, so a crash leaves either the
// previous or the new record on disk.
func (s *FileStore) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(record{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return security.NewTokenError("save", "failed to marshal record").WithCause(err)
	}

	sealed, err := s.encryptor.Seal(data)
	if err != nil {
		s.logger.LogCryptoEvent("token_seal", false, err.Error())
		return security.NewTokenError("save", "failed to seal record").WithCause(err)
	}

	if err := writeFileAtomic(s.path, []byte(sealed), 0o600); err != nil {
		return security.NewTokenError("save", "failed to write record").WithCause(err)
	}

	s.logger.LogCryptoEvent("token_seal", true, "")
	return nil
}

// Load reads the record. Decode failures are logged and absorbed.
func (s *FileStore) Load() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read token record", "error", err)
		}
		return Tokens{}
	}

	data, err := s.encryptor.Open(string(sealed))
	if err != nil {
		s.logger.LogCryptoEvent("token_open", false, err.Error())
		return Tokens{}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("Token record is not valid JSON", "error", err)
		return Tokens{}
	}

	var expiresAt time.Time
	if rec.ExpiresAt != "" {
		// An unparsable expiry leaves the zero time, so the token reads as expired.
		if parsed, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt); err == nil {
			expiresAt = parsed
		}
	}

	return Tokens{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// Clear removes the record. A missing record is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return security.NewTokenError("clear", "failed to remove record").WithCause(err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu     sync.Mutex
	tokens Tokens
	saves  int
}

func NewMemoryStore(initial Tokens) *MemoryStore {
	return &MemoryStore{tokens: initial}
}

func (m *MemoryStore) Save(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	m.saves++
	return nil
}

func (m *MemoryStore) Load() Tokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
