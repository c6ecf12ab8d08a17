// Package auth implements the remote-transport bearer token: a random
// token persisted under the Node's data directory, checked on every
// WebSocket upgrade.
package auth

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
)

const (
	tokenLength   = 32
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Token wraps the current value held in memory, already persisted to disk.
type Token struct {
	value string
}

func tokenPath(dataDir string) string { return filepath.Join(dataDir, "token") }

// Load resolves a token by priority: CODEWIRE_TOKEN env var wins and is
// (re)written to disk; otherwise an existing token file is reused;
// otherwise a fresh one is generated.
func Load(dataDir string) (*Token, error) {
	if env := strings.TrimSpace(os.Getenv("CODEWIRE_TOKEN")); env != "" {
		if err := writeToken(dataDir, env); err != nil {
			return nil, err
		}
		return &Token{value: env}, nil
	}

	path := tokenPath(dataDir)
	if data, err := os.ReadFile(path); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return &Token{value: v}, nil
		}
	}

	return generate(dataDir)
}

func generate(dataDir string) (*Token, error) {
	value, err := randomAlphanumeric(tokenLength)
	if err != nil {
		return nil, err
	}
	if err := writeToken(dataDir, value); err != nil {
		return nil, err
	}
	return &Token{value: value}, nil
}

func writeToken(dataDir, value string) error {
	path := tokenPath(dataDir)
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func randomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

// Check compares candidate against the stored value, trimmed on both
// sides.
func (t *Token) Check(candidate string) bool {
	return t.value == strings.TrimSpace(candidate)
}

// String returns the raw token value, for printing at daemon startup.
func (t *Token) String() string { return t.value }
