// Package identity reads the locally persisted session of the signed-in user.
// The session lives in a config directory as two files: user.json (the user
// record handed back by the auth flow) and token (the bearer credential).
// This package only reads them during normal operation; Save exists for the
// login command. Everything here fails soft: a missing or malformed session
// yields "not signed in", never an error the caller has to branch on.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	userFile  = "user.json"
	tokenFile = "token"
)

// User is the subset of the persisted user record this SDK cares about.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Store resolves the current user identity and bearer credential from disk.
type Store struct {
	// Dir is the config directory holding the session files.
	Dir string
}

// DefaultDir returns the per-user config directory for the session files.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engagechat"
	}
	return filepath.Join(home, ".engagechat")
}

// NewStore constructs a Store rooted at dir, or at DefaultDir when dir is
// empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{Dir: dir}
}

// CurrentUserID returns the durable identifier of the signed-in user. The
// second return is false when no session exists or the record is malformed.
func (s *Store) CurrentUserID() (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.Dir, userFile))
	if err != nil {
		return "", false
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
		return "", false
	}
	return canonicalID(u.ID), true
}

// Token returns the bearer credential for the current session, or "" when
// none is stored.
func (s *Store) Token() string {
	data, err := os.ReadFile(filepath.Join(s.Dir, tokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save persists the session record and bearer token, creating the config
// directory as needed. Used by the login flow only.
func (s *Store) Save(u User, token string) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, userFile), data, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, tokenFile), []byte(token), 0o600)
}

// Clear removes the persisted session files. Missing files are not an error.
func (s *Store) Clear() error {
	for _, name := range []string{userFile, tokenFile} {
		if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// canonicalID applies the legacy-identifier compatibility rule. IDs issued by
// the current auth service are UUIDs and pass through unchanged. Older
// sessions stored a base64-encoded identifier; those are decoded once. If the
// raw value is neither shape, it is returned as-is.
func canonicalID(raw string) string {
	if _, err := uuid.Parse(raw); err == nil {
		return raw
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(decoded) || len(decoded) == 0 {
		return raw
	}
	return string(decoded)
}
