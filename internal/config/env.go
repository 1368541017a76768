package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads LIVEVIEW_* environment variables that are not
// represented by dedicated CLI flags.
func (c *Config) ApplyEnvOverrides() error {
	if c == nil {
		return nil
	}

	applyStringEnv("LIVEVIEW_STATE_DIR", &c.StateDir)
	applyStringEnv("LIVEVIEW_METRICS_LABELS", &c.MetricsLabels)

	var err error
	if err = applyDurationEnv("LIVEVIEW_RECONNECT_DELAY", &c.ReconnectDelay); err != nil {
		return err
	}
	if err = applyDurationEnv("LIVEVIEW_PROBE_INTERVAL", &c.ProbeInterval); err != nil {
		return err
	}
	if err = applyDurationEnv("LIVEVIEW_REQUEST_TIMEOUT", &c.RequestTimeout); err != nil {
		return err
	}
	if err = applyDurationEnv("LIVEVIEW_CONTEXT_REFRESH_INTERVAL", &c.ContextRefreshInterval); err != nil {
		return err
	}
	if err = applyBoolEnv("LIVEVIEW_SEED_WELCOME_ENTRY", &c.SeedWelcomeEntry); err != nil {
		return err
	}
	if err = applyIntEnv("LIVEVIEW_STUB_MANAGEMENT_PORT", &c.StubManagementPort); err != nil {
		return err
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}
