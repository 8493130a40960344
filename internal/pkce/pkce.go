// Package pkce generates Proof Key for Code Exchange pairs (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// VerifierLength is the maximum verifier length RFC 7636 allows.
const VerifierLength = 128

// Method is the only challenge method this client sends.
const Method = "S256"

// unreserved is the RFC 3986 unreserved set.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// Pair binds one authorization attempt to the client that started it.
// A Pair must not be reused across attempts.
type Pair struct {
	Verifier  string
	Challenge string
}

// Generate returns a fresh verifier/challenge pair.
func Generate() (Pair, error) {
	verifier, err := randomVerifier(VerifierLength)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Verifier: verifier, Challenge: Challenge(verifier)}, nil
}

// Challenge computes base64url_nopad(sha256(verifier)).
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomVerifier(n int) (string, error) {
	limit := big.NewInt(int64(len(unreserved)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		buf[i] = unreserved[idx.Int64()]
	}
	return string(buf), nil
}
