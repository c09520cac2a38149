// Package tokencache manages the local credential file written after a
// successful device-flow login. The file is the client's only copy of the
// bearer token; the server keeps a revocable session record.
package tokencache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	configDirName = ".genauth"
	tokenFileName = "token.json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Token mirrors the issued credential on disk. ExpiresAt is nil for
// non-expiring tokens.
type Token struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	Scope        string     `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired reports whether the token's deadline has passed. A nil ExpiresAt
// means the token never expires. Client-side expiry math is advisory only; the
// server's evaluation is authoritative.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// Cache reads and writes the token file at a fixed per-user path.
type Cache struct {
	path string
}

// New returns a cache rooted in the user's home directory
// ($HOME/.genauth/token.json).
func New() (*Cache, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}
	return NewAt(filepath.Join(home, configDirName, tokenFileName)), nil
}

// NewAt returns a cache using an explicit file path. Used by tests and the
// GENAUTH_TOKEN_FILE override.
func NewAt(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the token file location.
func (c *Cache) Path() string {
	return c.path
}

// Load returns the cached token, or nil when the file is missing or unreadable.
// Corruption is never repaired; the caller treats nil as "not logged in".
func (c *Cache) Load() *Token {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil
	}
	if token.AccessToken == "" {
		return nil
	}
	return &token
}

// Save writes the token atomically with owner-only permissions.
func (c *Cache) Save(token *Token) error {
	if err := os.MkdirAll(filepath.Dir(c.path), dirPerm); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), tokenFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear deletes the token file. A missing file counts as success, so logout is
// idempotent.
func (c *Cache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// ErrNotAuthenticated signals a missing or expired local credential. Callers
// surface it with a remediation hint instead of a stack trace.
var ErrNotAuthenticated = errors.New("not authenticated")

// RequireAuth loads the token and checks expiry. Returns ErrNotAuthenticated
// when there is no usable credential.
func (c *Cache) RequireAuth() (*Token, error) {
	token := c.Load()
	if token == nil {
		return nil, ErrNotAuthenticated
	}
	if token.Expired(time.Now()) {
		return nil, ErrNotAuthenticated
	}
	return token, nil
}
