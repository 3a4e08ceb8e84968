package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// setRequired sets the minimum environment a Load needs to succeed.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "a-test-secret-that-is-long-enough")
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "password123")
	t.Setenv("AGENT_KEYS", "key-one,key-two")
	t.Setenv("ALLOWED_AGENT_TYPES", "assistant,tool")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8001 {
		t.Errorf("port: got %d, want 8001", cfg.Port)
	}
	if cfg.HeartbeatTimeout != 60*time.Second {
		t.Errorf("heartbeat timeout: got %v, want 60s", cfg.HeartbeatTimeout)
	}
	if cfg.CleanupInterval != 60*time.Second {
		t.Errorf("cleanup interval: got %v, want 60s", cfg.CleanupInterval)
	}
	if cfg.JWTAlgorithm != "HS256" {
		t.Errorf("jwt algorithm: got %q, want HS256", cfg.JWTAlgorithm)
	}
	if !cfg.RateLimitEnabled {
		t.Error("rate limiting must default to enabled")
	}
	if cfg.Redis.Configured() || cfg.Postgres.Configured() || cfg.Azure.Configured() {
		t.Error("no optional backend should be configured by default")
	}
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("AGENT_KEYS", "")
	t.Setenv("ALLOWED_AGENT_TYPES", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	for _, key := range []string{"JWT_SECRET", "ADMIN_USERNAME", "ADMIN_PASSWORD", "AGENT_KEYS", "ALLOWED_AGENT_TYPES"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should name missing key %s: %v", key, err)
		}
	}
}

func TestLoad_ClampsIntervals(t *testing.T) {
	setRequired(t)
	t.Setenv("AGENT_HEARTBEAT_TIMEOUT", "1")
	t.Setenv("AGENT_CLEANUP_INTERVAL", "0")
	t.Setenv("SESSION_TIMEOUT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatTimeout < 10*time.Second {
		t.Errorf("heartbeat timeout not clamped: %v", cfg.HeartbeatTimeout)
	}
	if cfg.CleanupInterval < 10*time.Second {
		t.Errorf("cleanup interval not clamped: %v", cfg.CleanupInterval)
	}
	if cfg.SessionTimeout < time.Minute {
		t.Errorf("session timeout not clamped: %v", cfg.SessionTimeout)
	}
}

func TestLoad_RejectsBadAlgorithm(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_ALGORITHM", "none")

	if _, err := Load(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for alg none, got %v", err)
	}
}

func TestLoad_RejectsBadPort(t *testing.T) {
	setRequired(t)
	t.Setenv("ARCP_PORT", "70000")

	if _, err := Load(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for out-of-range port, got %v", err)
	}
}

func TestConfig_AllowLists(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AgentTypeAllowed("assistant") || !cfg.AgentTypeAllowed("tool") {
		t.Error("configured agent types must be allowed")
	}
	if cfg.AgentTypeAllowed("rogue") {
		t.Error("unlisted agent type must be rejected")
	}
	if !cfg.AgentKeyAllowed("key-one") {
		t.Error("configured agent key must be allowed")
	}
	if cfg.AgentKeyAllowed("key-three") {
		t.Error("unlisted agent key must be rejected")
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"  ", 0},
		{"a", 1},
		{"a,b,c", 3},
		{" a , b ,, c ", 3},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); len(got) != tc.want {
			t.Errorf("splitList(%q) = %v, want %d items", tc.in, got, tc.want)
		}
	}
}
