// Package session decides which persistence strategy is active.
//
// A Session is read from a small YAML file written by whatever signs the
// user in. A signed-in session with a configured remote selects the remote
// strategy; everything else uses the local one. Watcher reports changes to
// that file so the engine can swap strategies.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flocksync/internal/strategy"
)

// Session is the authentication state that selects a strategy.
type Session struct {
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token,omitempty"`
}

// SignedIn reports whether the session belongs to a user.
func (s Session) SignedIn() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// LoadFile reads a session file. A missing or empty file means signed out.
func LoadFile(path string) (Session, error) {
	if strings.TrimSpace(path) == "" {
		return Session{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session file %s: %w", path, err)
	}
	s.UserID = strings.TrimSpace(s.UserID)
	return s, nil
}

// Resolver maps a session to the active strategy.
// Resolve has no side effects and may be called any number of times.
type Resolver struct {
	Local  strategy.Strategy
	Remote strategy.Strategy
}

// Resolve returns Remote for a signed-in session when one is configured,
// otherwise Local.
func (r Resolver) Resolve(s Session) strategy.Strategy {
	if s.SignedIn() && r.Remote != nil {
		return r.Remote
	}
	return r.Local
}

// Mode names the strategy Resolve would pick, for logs and CLI output.
func (r Resolver) Mode(s Session) string {
	if s.SignedIn() && r.Remote != nil {
		return "remote"
	}
	return "local"
}
