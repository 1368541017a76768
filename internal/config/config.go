package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the liveview client and the stub server.
type Config struct {
	// ServerURL is the base URL of the backend (bulk fetch, mutations, ping
	// and the event stream all hang off it).
	ServerURL string

	// IdentityKey selects the authenticated identity for the event feed.
	// Empty means an anonymous identity is minted and persisted in StateDir.
	IdentityKey string

	// StateDir holds the anonymous session file. Empty uses a "liveview"
	// directory under the platform state/home directory.
	StateDir string

	// ReconnectDelay is the fixed pause between a transport drop and the
	// single reconnect attempt that follows it.
	ReconnectDelay time.Duration

	// ProbeInterval is how often the keepalive probe verifies liveness when
	// no frame has arrived.
	ProbeInterval time.Duration

	// RequestTimeout bounds every request/response call (bulk fetch,
	// mutations, keepalive probe). The event stream itself is unbounded.
	RequestTimeout time.Duration

	// ContextRefreshInterval is how often the parent-context cache refetches
	// in the background.
	ContextRefreshInterval time.Duration

	// SeedWelcomeEntry inserts one tail-sorted placeholder for first-run
	// anonymous sessions so the list is never empty before the first fetch.
	SeedWelcomeEntry bool

	// Stub server
	StubPort           int
	StubManagementPort int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=liveview".
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServerURL:              "http://localhost:8080",
		ReconnectDelay:         3 * time.Second,
		ProbeInterval:          30 * time.Second,
		RequestTimeout:         10 * time.Second,
		ContextRefreshInterval: 5 * time.Minute,
		SeedWelcomeEntry:       true,
		StubPort:               8080,
		StubManagementPort:     9090,
	}
}

// ResolvedStateDir returns the configured state directory or the platform default.
func (c *Config) ResolvedStateDir() string {
	if c != nil {
		if dir := strings.TrimSpace(c.StateDir); dir != "" {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".liveview")
	}
	return filepath.Join(os.TempDir(), "liveview")
}
