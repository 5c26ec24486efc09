// Package session owns the Bunsho authentication token and its lifecycle.
//
// A Store is a two-state machine: Unauthenticated (empty token) and
// Authenticated (any non-empty token). The client never validates token
// structure; that is the server's job. The token round-trips through a
// single JSON file in the user's config directory.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Store holds the current session token and its persisted location.
// All mutations are total replacements of the token value.
type Store struct {
	mu    sync.RWMutex
	token string
	path  string
}

// tokenFile is the persisted shape of a session.
type tokenFile struct {
	Token string `json:"token"`
}

// DefaultPath returns the default location of the token file.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Bunsho", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bunsho", "token.json")
}

// New returns an Unauthenticated store bound to the given token file path.
// An empty path selects DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Token returns the current token, empty when unauthenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a session token is held.
func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// Set replaces the token. An empty value transitions the store to
// Unauthenticated. Set performs no I/O.
func (s *Store) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Restore loads a previously persisted token. A missing token file leaves
// the store Unauthenticated and is not an error. Restore is idempotent.
func (s *Store) Restore() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.Set("")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}
	s.Set(tf.Token)
	return nil
}

// Persist writes the current token to the token file. It does not change
// in-memory state. Storage failures are not retried; the caller treats them
// as fatal configuration trouble.
func (s *Store) Persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.Marshal(tokenFile{Token: s.Token()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear drops the in-memory token and removes the persisted one. Used on
// logout and when the server classifies a request as Unauthorized.
func (s *Store) Clear() error {
	s.Set("")
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Claims is the display-only subset of the token payload.
type Claims struct {
	Uname string `json:"uname"`
	jwt.RegisteredClaims
}

// Claims decodes the held token's payload without verifying its signature.
// The result is for display only (whoami, expiry hints); acceptance of the
// token remains server-enforced.
func (s *Store) Claims() (*Claims, error) {
	token := s.Token()
	if token == "" {
		return nil, fmt.Errorf("no session token held")
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &claims, nil
}
