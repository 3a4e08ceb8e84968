package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/bus"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/embedding"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/ratelimit"
	"github.com/arcp-io/arcp/internal/registry/service"
	"github.com/arcp-io/arcp/internal/storage"
)

// problemType builds the full problem type URI for a taxonomy slug.
func problemType(slug string) string {
	return "https://arcp.io/problems/" + slug
}

type testServer struct {
	engine   *gin.Engine
	cfg      *config.Config
	registry *service.Registry
	tokens   *auth.TokenService
}

// newTestServer assembles the full router over memory-only storage. The
// per-IP throttle stays off so tests can hammer endpoints; the brute-force
// limiter stays on with a low attempt budget so lockouts are reachable.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{
		Host:              "127.0.0.1",
		Port:              8001,
		JWTSecret:         "test-secret-that-is-long-enough-for-hmac",
		JWTAlgorithm:      "HS256",
		JWTExpireMinutes:  60,
		AdminUsername:     "admin",
		AdminPassword:     "password123",
		AgentKeys:         []string{"key-one", "key-two", "key-three"},
		AllowedAgentTypes: []string{"assistant", "tool"},
		HeartbeatTimeout:  time.Minute,
		CleanupInterval:   time.Minute,
		SessionTimeout:    time.Hour,
		RateLimitEnabled:  false,
		WebSocketTimeout:  30 * time.Second,
		WebSocketMaxConns: 10,
		CORSOrigins:       []string{"*"},
	}
	cfg.WebSocketPingInterval = 30 * time.Second

	adapter := storage.NewAdapter(nil, time.Second, logger)
	store := service.NewStore(adapter, logger)
	events := bus.New(0, logger)
	m := metrics.New()
	embedder := embedding.NewNullProvider()
	registry := service.NewRegistry(cfg, store, embedder, events, m, logger)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTExpireMinutes)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	sessions := auth.NewSessionManager(adapter, cfg.SessionTimeout)
	creds := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword)
	limiter := ratelimit.NewLimiter(adapter, ratelimit.Options{MaxAttempts: 3}, logger)
	mw := auth.NewMiddleware(tokens, sessions, limiter)

	h := Handlers{
		Auth:   NewAuthHandler(cfg, tokens, sessions, creds, limiter, mw, registry, m, logger),
		Agents: NewAgentHandler(registry, tokens, mw, logger),
		Public: NewPublicHandler(cfg, registry, logger),
		WS:     NewWSHandler(cfg, registry, events, m, logger),
		Health: NewHealthHandler(registry, adapter, embedder, mw),
	}
	engine := NewRouter(cfg, m, h, logger)

	return &testServer{engine: engine, cfg: cfg, registry: registry, tokens: tokens}
}

// do runs one request through the engine.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// adminToken logs in as the configured admin and returns the session token.
func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	w := ts.do(t, "POST", "/auth/login", "", gin.H{"username": "admin", "password": "password123"})
	if w.Code != 200 {
		t.Fatalf("admin login: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	if resp.AccessToken == "" {
		t.Fatal("admin login returned no token")
	}
	return resp.AccessToken
}

// tempToken runs enrollment phase one for the given identity.
func (ts *testServer) tempToken(t *testing.T, agentID, key string) string {
	t.Helper()
	w := ts.do(t, "POST", "/auth/agent/request_temp_token", "", gin.H{
		"agent_id":   agentID,
		"agent_type": "assistant",
		"agent_key":  key,
	})
	if w.Code != 200 {
		t.Fatalf("temp token for %s: status %d, body %s", agentID, w.Code, w.Body.String())
	}
	var resp struct {
		TempToken string `json:"temp_token"`
	}
	decode(t, w, &resp)
	return resp.TempToken
}

func registrationPayload(agentID string) gin.H {
	return gin.H{
		"agent_id":           agentID,
		"name":               "Agent " + agentID,
		"agent_type":         "assistant",
		"endpoint":           "https://" + agentID + ".example.com",
		"context_brief":      "test agent answering questions about the weather",
		"capabilities":       []string{"chat", "weather"},
		"owner":              "ops@example.com",
		"public_key":         strings.Repeat("k", 64),
		"version":            "1.0.0",
		"communication_mode": "remote",
	}
}

// enroll runs the full two-phase enrollment and returns the permanent token.
func (ts *testServer) enroll(t *testing.T, agentID, key string) string {
	t.Helper()
	temp := ts.tempToken(t, agentID, key)
	w := ts.do(t, "POST", "/agents/register", temp, registrationPayload(agentID))
	if w.Code != 201 {
		t.Fatalf("register %s: status %d, body %s", agentID, w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	if resp.AccessToken == "" {
		t.Fatal("registration returned no permanent token")
	}
	return resp.AccessToken
}

func TestRouter_SecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/health", "", nil)

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options: got %q, want DENY", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q, want nosniff", got)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, "GET", "/nope", "", nil); w.Code != 404 {
		t.Errorf("unknown route: status %d, want 404", w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/metrics", "", nil)
	if w.Code != 200 {
		t.Fatalf("metrics scrape: status %d", w.Code)
	}
}

func TestHealth_Liveness(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/health", "", nil)
	if w.Code != 200 {
		t.Fatalf("health: status %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["service"] != config.ServiceName {
		t.Errorf("service: got %v", resp["service"])
	}
	// Memory-only deployment with no embedding provider is a configuration,
	// not an outage.
	if resp["storage"] != "memory" {
		t.Errorf("storage: got %v, want memory", resp["storage"])
	}
	if resp["ai_services"] != "unavailable" {
		t.Errorf("ai_services: got %v, want unavailable", resp["ai_services"])
	}
}

func TestHealth_DetailedRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, "GET", "/health/detailed", "", nil); w.Code != 401 {
		t.Errorf("unauthenticated detailed health: status %d, want 401", w.Code)
	}

	admin := ts.adminToken(t)
	agentToken := ts.enroll(t, "hc-a1", "key-one")
	if w := ts.do(t, "GET", "/health/detailed", agentToken, nil); w.Code != 403 {
		t.Errorf("agent token on detailed health: status %d, want 403", w.Code)
	}

	w := ts.do(t, "GET", "/health/detailed", admin, nil)
	if w.Code != 200 {
		t.Fatalf("detailed health: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status       string `json:"status"`
		Dependencies struct {
			StorageBackend struct {
				Configured bool   `json:"configured"`
				State      string `json:"state"`
			} `json:"storage_backend"`
			EmbeddingProvider struct {
				Available bool   `json:"available"`
				State     string `json:"state"`
			} `json:"embedding_provider"`
		} `json:"dependencies"`
	}
	decode(t, w, &resp)

	// Memory-only deployment: no backend, no embedder, still healthy.
	if resp.Status != "healthy" {
		t.Errorf("status: got %q, want healthy", resp.Status)
	}
	if resp.Dependencies.StorageBackend.Configured || resp.Dependencies.StorageBackend.State != "memory" {
		t.Errorf("storage dependency: %+v", resp.Dependencies.StorageBackend)
	}
	if resp.Dependencies.EmbeddingProvider.Available {
		t.Error("null embedding provider must report unavailable")
	}
}

// downBackend fails every operation, standing in for a configured storage
// backend that stopped answering.
type downBackend struct{}

var errBackendDown = errors.New("backend down")

func (downBackend) HSet(context.Context, string, string, []byte) error { return errBackendDown }
func (downBackend) HGet(context.Context, string, string) ([]byte, error) {
	return nil, errBackendDown
}
func (downBackend) HKeys(context.Context, string) ([]string, error) { return nil, errBackendDown }
func (downBackend) HDel(context.Context, string, ...string) error   { return errBackendDown }
func (downBackend) Exists(context.Context, string, string) (bool, error) {
	return false, errBackendDown
}
func (downBackend) Ping(context.Context) error { return errBackendDown }
func (downBackend) Close() error               { return nil }

func TestHealth_DegradedWhenBackendUnreachable(t *testing.T) {
	logger := zap.NewNop()
	cfg := &config.Config{HeartbeatTimeout: time.Minute}

	adapter := storage.NewAdapter(downBackend{}, time.Second, logger)
	store := service.NewStore(adapter, logger)
	registry := service.NewRegistry(cfg, store, embedding.NewNullProvider(), bus.New(0, logger), metrics.New(), logger)

	tokens, err := auth.NewTokenService("test-secret-that-is-long-enough-for-hmac", "HS256", 60)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	sessions := auth.NewSessionManager(adapter, time.Hour)
	limiter := ratelimit.NewLimiter(adapter, ratelimit.Options{}, logger)
	mw := auth.NewMiddleware(tokens, sessions, limiter)

	h := NewHealthHandler(registry, adapter, embedding.NewNullProvider(), mw)
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.Register(engine.Group(""))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("health: status %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status: got %v, want degraded", resp["status"])
	}
	if resp["storage"] != "fallback" {
		t.Errorf("storage: got %v, want fallback", resp["storage"])
	}
}
