package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFile       = ".salt"
	saltSize       = 32
	pbkdf2Rounds   = 100000
	derivedKeySize = 32
)

// TokenEncryptor obfuscates session secrets at rest. The key is derived from
// machine and user identity plus a per-directory salt, so a copied token file
// is useless on another host. It is not a defence against a local attacker
// running as the same user.
type TokenEncryptor struct {
	derivedKey []byte
}

// NewTokenEncryptor creates an encryptor whose salt lives in dir.
func NewTokenEncryptor(dir string) (*TokenEncryptor, error) {
	salt, err := generateOrLoadSalt(dir)
	if err != nil {
		return nil, NewCryptoError("salt", "failed to prepare salt").WithCause(err)
	}

	machineID, err := getMachineID()
	if err != nil {
		return nil, NewCryptoError("machine_id", "failed to get machine ID").WithCause(err)
	}

	userHome, err := os.UserHomeDir()
	if err != nil || userHome == "" {
		userHome = fmt.Sprintf("uid-%d", os.Getuid())
	}

	keyMaterial := fmt.Sprintf("%s:%s", machineID, userHome)
	derivedKey := pbkdf2.Key([]byte(keyMaterial), salt, pbkdf2Rounds, derivedKeySize, sha256.New)

	return &TokenEncryptor{derivedKey: derivedKey}, nil
}

// Seal encrypts plaintext and returns base64 ciphertext prefixed with its nonce.
func (te *TokenEncryptor) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", NewCryptoError("seal", "plaintext cannot be empty")
	}

	gcm, err := te.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", NewCryptoError("seal", "failed to generate nonce").WithCause(err)
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func (te *TokenEncryptor) Open(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, NewCryptoError("open", "ciphertext cannot be empty")
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, NewCryptoError("open", "invalid base64 encoding").WithCause(err)
	}

	gcm, err := te.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, NewCryptoError("open", "ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, NewCryptoError("open", "authentication failed").WithCause(err)
	}

	return plaintext, nil
}

func (te *TokenEncryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(te.derivedKey)
	if err != nil {
		return nil, NewCryptoError("cipher", "failed to create cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewCryptoError("cipher", "failed to create GCM").WithCause(err)
	}
	return gcm, nil
}

func generateOrLoadSalt(dir string) ([]byte, error) {
	saltPath := filepath.Join(dir, saltFile)

	if salt, err := os.ReadFile(saltPath); err == nil && len(salt) == saltSize {
		return salt, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create salt directory: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate random salt: %w", err)
	}

	if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}

	return salt, nil
}

// getMachineID reads the machine ID, falling back to hostname and uid.
func getMachineID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return string(data[:min(len(data), 32)]), nil
		}
	}

	hostname, _ := os.Hostname()
	fallback := fmt.Sprintf("%s-%d", hostname, os.Getuid())
	if len(fallback) < 8 {
		return "fallback-machine-id", nil
	}
	return fallback, nil
}
