package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes authenticated users from anonymous browser-style sessions.
type Kind string

const (
	KindAuthenticated Kind = "authenticated"
	KindAnonymous     Kind = "anonymous"
)

// Identity selects the event feed and is carried on every request.
type Identity struct {
	Kind Kind
	Key  string
}

// Provider resolves the current identity. Implementations never block on I/O
// beyond local file access.
type Provider interface {
	CurrentIdentity() (Identity, error)
}

// StaticProvider returns a fixed authenticated identity.
type StaticProvider struct {
	Key string
}

func (p StaticProvider) CurrentIdentity() (Identity, error) {
	if strings.TrimSpace(p.Key) == "" {
		return Identity{}, fmt.Errorf("session: empty identity key")
	}
	return Identity{Kind: KindAuthenticated, Key: p.Key}, nil
}

const anonFileName = "anonymous-session"

// AnonymousProvider mints an anonymous identity on first use and persists it,
// so reconnects and restarts keep the same feed identity.
type AnonymousProvider struct {
	StateDir string
}

func (p AnonymousProvider) CurrentIdentity() (Identity, error) {
	path := filepath.Join(p.StateDir, anonFileName)
	if raw, err := os.ReadFile(path); err == nil {
		key := strings.TrimSpace(string(raw))
		if _, parseErr := uuid.Parse(key); parseErr == nil {
			return Identity{Kind: KindAnonymous, Key: key}, nil
		}
		// Corrupt state file; mint a fresh identity below.
	}

	key := uuid.NewString()
	if err := os.MkdirAll(p.StateDir, 0o700); err != nil {
		return Identity{}, fmt.Errorf("session: create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return Identity{}, fmt.Errorf("session: persist anonymous identity: %w", err)
	}
	return Identity{Kind: KindAnonymous, Key: key}, nil
}

// IsFirstRun reports whether no anonymous identity has been persisted yet.
// The caller uses it to decide whether to seed the welcome entry.
func (p AnonymousProvider) IsFirstRun() bool {
	_, err := os.Stat(filepath.Join(p.StateDir, anonFileName))
	return os.IsNotExist(err)
}
