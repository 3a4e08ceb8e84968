// Package config loads ARCP server configuration from the environment.
//
// Every knob is an env var (viper with AutomaticEnv); a missing required key
// fails startup fast with ErrConfiguration rather than limping along with a
// guessable secret.
package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration is wrapped by every configuration load/validation error.
var ErrConfiguration = errors.New("configuration error")

// Service identity constants reported by /public/info and /health.
const (
	ServiceName    = "ARCP"
	ServiceVersion = "2.0.2"
)

// Config is the fully resolved server configuration.
type Config struct {
	Host  string
	Port  int
	Debug bool

	JWTSecret        string
	JWTAlgorithm     string
	JWTExpireMinutes int

	AdminUsername string
	AdminPassword string

	// AgentKeys is the pre-shared registration key allow-list.
	AgentKeys []string
	// AllowedAgentTypes restricts the agent_type of registrations.
	AllowedAgentTypes []string

	HeartbeatTimeout time.Duration
	CleanupInterval  time.Duration
	SessionTimeout   time.Duration

	RateLimitEnabled bool
	// RateLimitRPS is the steady-state per-IP request budget for the
	// outer HTTP throttle (0 disables it).
	RateLimitRPS int

	WebSocketTimeout      time.Duration
	WebSocketPingInterval time.Duration
	WebSocketMaxConns     int

	VectorSearchTopK          int
	VectorSearchMinSimilarity float64

	Redis    RedisConfig
	Postgres PostgresConfig
	Azure    AzureConfig

	CORSOrigins []string
}

// RedisConfig holds the optional Redis storage backend settings.
type RedisConfig struct {
	Host                string
	Port                int
	Password            string
	DB                  int
	HealthCheckInterval time.Duration
}

// Configured reports whether a Redis backend was requested.
func (r RedisConfig) Configured() bool { return r.Host != "" }

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// PostgresConfig holds the optional Postgres storage backend settings.
type PostgresConfig struct {
	URL string
}

// Configured reports whether a Postgres backend was requested.
func (p PostgresConfig) Configured() bool { return p.URL != "" }

// AzureConfig holds the optional Azure OpenAI embedding provider settings.
type AzureConfig struct {
	APIKey     string
	Endpoint   string
	APIVersion string
	Deployment string
}

// Configured reports whether the embedding provider can be constructed.
func (a AzureConfig) Configured() bool { return a.APIKey != "" && a.Endpoint != "" }

// Floors applied to interval settings so a typo cannot turn the cleanup loop
// into a busy spin or make every agent instantly stale.
const (
	minHeartbeatTimeout = 10 * time.Second
	minCleanupInterval  = 10 * time.Second
	minSessionTimeout   = time.Minute
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ARCP_HOST", "0.0.0.0")
	v.SetDefault("ARCP_PORT", 8001)
	v.SetDefault("ARCP_DEBUG", false)

	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("JWT_EXPIRE_MINUTES", 60)

	v.SetDefault("AGENT_HEARTBEAT_TIMEOUT", 60)
	v.SetDefault("AGENT_CLEANUP_INTERVAL", 60)
	v.SetDefault("SESSION_TIMEOUT", 3600)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 20)

	v.SetDefault("WEBSOCKET_TIMEOUT", 30)
	v.SetDefault("WEBSOCKET_PING_INTERVAL", 30)
	v.SetDefault("WEBSOCKET_MAX_CONNECTIONS", 100)

	v.SetDefault("VECTOR_SEARCH_TOP_K", 10)
	v.SetDefault("VECTOR_SEARCH_MIN_SIMILARITY", 0.5)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_HEALTH_CHECK_INTERVAL", 30)

	v.SetDefault("POSTGRES_URL", "")

	v.SetDefault("AZURE_API_KEY", "")
	v.SetDefault("AZURE_ENDPOINT", "")
	v.SetDefault("AZURE_API_VERSION", "2023-12-01-preview")
	v.SetDefault("AZURE_EMBEDDING_DEPLOYMENT", "text-embedding-ada-002")

	v.SetDefault("ARCP_CORS_ORIGINS", "http://localhost:3000")
}

// Load reads configuration from the environment and validates required keys.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Host:  v.GetString("ARCP_HOST"),
		Port:  v.GetInt("ARCP_PORT"),
		Debug: v.GetBool("ARCP_DEBUG"),

		JWTSecret:        v.GetString("JWT_SECRET"),
		JWTAlgorithm:     v.GetString("JWT_ALGORITHM"),
		JWTExpireMinutes: v.GetInt("JWT_EXPIRE_MINUTES"),

		AdminUsername: v.GetString("ADMIN_USERNAME"),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),

		AgentKeys:         splitList(v.GetString("AGENT_KEYS")),
		AllowedAgentTypes: splitList(v.GetString("ALLOWED_AGENT_TYPES")),

		HeartbeatTimeout: time.Duration(v.GetInt("AGENT_HEARTBEAT_TIMEOUT")) * time.Second,
		CleanupInterval:  time.Duration(v.GetInt("AGENT_CLEANUP_INTERVAL")) * time.Second,
		SessionTimeout:   time.Duration(v.GetInt("SESSION_TIMEOUT")) * time.Second,

		RateLimitEnabled: v.GetBool("RATE_LIMIT_ENABLED"),
		RateLimitRPS:     v.GetInt("RATE_LIMIT_RPS"),

		WebSocketTimeout:      time.Duration(v.GetInt("WEBSOCKET_TIMEOUT")) * time.Second,
		WebSocketPingInterval: time.Duration(v.GetInt("WEBSOCKET_PING_INTERVAL")) * time.Second,
		WebSocketMaxConns:     v.GetInt("WEBSOCKET_MAX_CONNECTIONS"),

		VectorSearchTopK:          v.GetInt("VECTOR_SEARCH_TOP_K"),
		VectorSearchMinSimilarity: v.GetFloat64("VECTOR_SEARCH_MIN_SIMILARITY"),

		Redis: RedisConfig{
			Host:                v.GetString("REDIS_HOST"),
			Port:                v.GetInt("REDIS_PORT"),
			Password:            v.GetString("REDIS_PASSWORD"),
			DB:                  v.GetInt("REDIS_DB"),
			HealthCheckInterval: time.Duration(v.GetInt("REDIS_HEALTH_CHECK_INTERVAL")) * time.Second,
		},
		Postgres: PostgresConfig{
			URL: v.GetString("POSTGRES_URL"),
		},
		Azure: AzureConfig{
			APIKey:     v.GetString("AZURE_API_KEY"),
			Endpoint:   v.GetString("AZURE_ENDPOINT"),
			APIVersion: v.GetString("AZURE_API_VERSION"),
			Deployment: v.GetString("AZURE_EMBEDDING_DEPLOYMENT"),
		},

		CORSOrigins: splitList(v.GetString("ARCP_CORS_ORIGINS")),
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// clamp raises interval settings to sane minimums.
func (c *Config) clamp() {
	if c.HeartbeatTimeout < minHeartbeatTimeout {
		c.HeartbeatTimeout = minHeartbeatTimeout
	}
	if c.CleanupInterval < minCleanupInterval {
		c.CleanupInterval = minCleanupInterval
	}
	if c.SessionTimeout < minSessionTimeout {
		c.SessionTimeout = minSessionTimeout
	}
	if c.VectorSearchTopK < 1 {
		c.VectorSearchTopK = 10
	}
	if c.VectorSearchMinSimilarity < 0 || c.VectorSearchMinSimilarity > 1 {
		c.VectorSearchMinSimilarity = 0.5
	}
	if c.JWTExpireMinutes < 1 {
		c.JWTExpireMinutes = 60
	}
}

// Validate checks the required keys and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.AdminUsername == "" {
		missing = append(missing, "ADMIN_USERNAME")
	}
	if c.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	if len(c.AgentKeys) == 0 {
		missing = append(missing, "AGENT_KEYS")
	}
	if len(c.AllowedAgentTypes) == 0 {
		missing = append(missing, "ALLOWED_AGENT_TYPES")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required keys: %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.JWTAlgorithm != "HS256" && c.JWTAlgorithm != "HS384" && c.JWTAlgorithm != "HS512" {
		return fmt.Errorf("%w: unsupported JWT_ALGORITHM %q", ErrConfiguration, c.JWTAlgorithm)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: ARCP_PORT out of range: %d", ErrConfiguration, c.Port)
	}
	return nil
}

// AgentTypeAllowed reports whether agentType is in the configured allow-list.
func (c *Config) AgentTypeAllowed(agentType string) bool {
	for _, t := range c.AllowedAgentTypes {
		if t == agentType {
			return true
		}
	}
	return false
}

// AgentKeyAllowed reports whether key is in the configured allow-list. The
// comparison is constant-time per candidate, and every candidate is checked
// so the answer does not leak which position matched.
func (c *Config) AgentKeyAllowed(key string) bool {
	allowed := false
	for _, k := range c.AgentKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			allowed = true
		}
	}
	return allowed
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
