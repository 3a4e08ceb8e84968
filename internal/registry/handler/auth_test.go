package handler

import (
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/problem"
)

// problemBody is the RFC 7807 shape every error response carries.
type problemBody struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

func TestLogin_Success(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/login", "", gin.H{"username": "admin", "password": "password123"})
	if w.Code != 200 {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Role        string `json:"role"`
	}
	decode(t, w, &resp)
	if resp.AccessToken == "" || resp.TokenType != "bearer" {
		t.Errorf("token response: %+v", resp)
	}
	if resp.Role != string(auth.RoleAdmin) {
		t.Errorf("role: got %q, want admin", resp.Role)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in: got %d, want 3600", resp.ExpiresIn)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/login", "", gin.H{"username": "admin", "password": "wrong"})
	if w.Code != 401 {
		t.Fatalf("status %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != problem.ContentType {
		t.Errorf("content type: got %q, want %q", ct, problem.ContentType)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("authentication-failed") {
		t.Errorf("problem type: got %q", body.Type)
	}
	if body.Status != 401 {
		t.Errorf("problem status field: got %d", body.Status)
	}
}

func TestLogin_RejectsAgentCredentials(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/login", "", gin.H{
		"username": "admin",
		"password": "password123",
		"agent_id": "agent-1",
	})
	if w.Code != 403 {
		t.Fatalf("status %d, want 403", w.Code)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("insufficient-permissions") {
		t.Errorf("problem type: got %q", body.Type)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	ts := newTestServer(t)
	bad := gin.H{"username": "admin", "password": "wrong"}

	for i := 0; i < 3; i++ {
		if w := ts.do(t, "POST", "/auth/login", "", bad); w.Code != 401 {
			t.Fatalf("failure %d: status %d, want 401", i+1, w.Code)
		}
	}

	w := ts.do(t, "POST", "/auth/login", "", bad)
	if w.Code != 429 {
		t.Fatalf("locked attempt: status %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After header")
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("rate-limit-exceeded") {
		t.Errorf("problem type: got %q", body.Type)
	}
	if body.RetryAfter < 1 {
		t.Errorf("retry_after: got %d, want >= 1", body.RetryAfter)
	}

	// The lockout holds even for correct credentials.
	good := gin.H{"username": "admin", "password": "password123"}
	if w := ts.do(t, "POST", "/auth/login", "", good); w.Code != 429 {
		t.Errorf("correct credentials during lockout: status %d, want 429", w.Code)
	}
}

func TestTempToken_RequiresKnownKey(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/agent/request_temp_token", "", gin.H{
		"agent_id":   "a1",
		"agent_type": "assistant",
		"agent_key":  "not-a-real-key",
	})
	if w.Code != 401 {
		t.Fatalf("status %d, want 401", w.Code)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("authentication-failed") {
		t.Errorf("problem type: got %q", body.Type)
	}
}

func TestTempToken_RejectsUnknownAgentType(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/agent/request_temp_token", "", gin.H{
		"agent_id":   "a1",
		"agent_type": "rogue",
		"agent_key":  "key-one",
	})
	if w.Code != 422 {
		t.Fatalf("status %d, want 422", w.Code)
	}
}

func TestTempToken_ShortExpiry(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/auth/agent/request_temp_token", "", gin.H{
		"agent_id":   "a1",
		"agent_type": "assistant",
		"agent_key":  "key-one",
	})
	if w.Code != 200 {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		TempToken string `json:"temp_token"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, w, &resp)
	if resp.TempToken == "" {
		t.Fatal("no temp token issued")
	}
	if resp.ExpiresIn != int(auth.TempTokenTTL.Seconds()) {
		t.Errorf("expires_in: got %d, want %d", resp.ExpiresIn, int(auth.TempTokenTTL.Seconds()))
	}
}

func TestTokenValidate(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	w := ts.do(t, "POST", "/tokens/validate", "", gin.H{"token": token})
	if w.Code != 200 {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Valid   bool   `json:"valid"`
		Subject string `json:"subject"`
		Role    string `json:"role"`
	}
	decode(t, w, &resp)
	if !resp.Valid || resp.Subject != "admin" || resp.Role != string(auth.RoleAdmin) {
		t.Errorf("validate response: %+v", resp)
	}

	// An invalid token is not an error: the check itself succeeded.
	w = ts.do(t, "POST", "/tokens/validate", "", gin.H{"token": "garbage"})
	if w.Code != 200 {
		t.Fatalf("garbage token: status %d, want 200", w.Code)
	}
	var invalid struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	decode(t, w, &invalid)
	if invalid.Valid || invalid.Error == "" {
		t.Errorf("garbage token response: %+v", invalid)
	}
}

func TestTokenValidate_QueryParameter(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	w := ts.do(t, "POST", "/tokens/validate?token="+token, "", nil)
	if w.Code != 200 {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	decode(t, w, &resp)
	if !resp.Valid {
		t.Error("query-form validation should report valid")
	}

	// No token anywhere is still a validation error.
	if w := ts.do(t, "POST", "/tokens/validate", "", nil); w.Code != 422 {
		t.Errorf("missing token: status %d, want 422", w.Code)
	}
}

func TestTempToken_RejectsKeyBoundToLiveAgent(t *testing.T) {
	ts := newTestServer(t)
	ts.enroll(t, "a1", "key-one")

	w := ts.do(t, "POST", "/auth/agent/request_temp_token", "", gin.H{
		"agent_id":   "a2",
		"agent_type": "assistant",
		"agent_key":  "key-one",
	})
	if w.Code != 409 {
		t.Fatalf("status %d, want 409, body %s", w.Code, w.Body.String())
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("agent-key-in-use") {
		t.Errorf("problem type: got %q", body.Type)
	}

	// The agent that owns the binding may still re-enroll with it.
	if tok := ts.tempToken(t, "a1", "key-one"); tok == "" {
		t.Error("owner re-enrollment returned no token")
	}
}

func TestTokenRefresh_RejectsTempToken(t *testing.T) {
	ts := newTestServer(t)
	temp := ts.tempToken(t, "a1", "key-one")

	w := ts.do(t, "POST", "/tokens/refresh", "", gin.H{"token": temp})
	if w.Code != 401 {
		t.Errorf("refreshing a temp token: status %d, want 401", w.Code)
	}

	admin := ts.adminToken(t)
	w = ts.do(t, "POST", "/tokens/refresh", "", gin.H{"token": admin})
	if w.Code != 200 {
		t.Errorf("refreshing an admin token: status %d, body %s", w.Code, w.Body.String())
	}
}

func TestPin_SetAndVerify(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	if w := ts.do(t, "POST", "/auth/set_pin", token, gin.H{"pin": "123456"}); w.Code != 200 {
		t.Fatalf("set pin: status %d, body %s", w.Code, w.Body.String())
	}

	w := ts.do(t, "POST", "/auth/verify_pin", token, gin.H{"pin": "123456"})
	if w.Code != 200 {
		t.Fatalf("verify pin: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	decode(t, w, &resp)
	if !resp.Valid {
		t.Error("correct pin reported invalid")
	}

	if w := ts.do(t, "POST", "/auth/verify_pin", token, gin.H{"pin": "654321"}); w.Code != 401 {
		t.Errorf("wrong pin: status %d, want 401", w.Code)
	}
}

func TestPin_RejectsMalformedPin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	for _, pin := range []string{"12", "123456789", "abcd"} {
		if w := ts.do(t, "POST", "/auth/set_pin", token, gin.H{"pin": pin}); w.Code != 422 {
			t.Errorf("pin %q: status %d, want 422", pin, w.Code)
		}
	}
}

func TestPinEndpoints_RequireSession(t *testing.T) {
	ts := newTestServer(t)
	// A valid admin token minted outside login has no session behind it.
	token, err := ts.tokens.Mint("admin", auth.RoleAdmin, auth.Claims{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if w := ts.do(t, "POST", "/auth/set_pin", token, gin.H{"pin": "123456"}); w.Code != 401 {
		t.Errorf("set pin without session: status %d, want 401", w.Code)
	}
}

func TestLogout_DestroysSession(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	if w := ts.do(t, "POST", "/auth/logout", token, nil); w.Code != 200 {
		t.Fatalf("logout: status %d, body %s", w.Code, w.Body.String())
	}
	// The token is still a valid JWT but the session behind it is gone.
	if w := ts.do(t, "POST", "/auth/set_pin", token, gin.H{"pin": "123456"}); w.Code != 401 {
		t.Errorf("session-bound endpoint after logout: status %d, want 401", w.Code)
	}
}

func TestMintToken_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	token := ts.adminToken(t)

	w := ts.do(t, "POST", "/tokens/mint", token, gin.H{"subject": "svc-1", "role": "agent"})
	if w.Code != 200 {
		t.Fatalf("mint: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	if resp.AccessToken == "" {
		t.Fatal("mint returned no token")
	}

	if w := ts.do(t, "POST", "/tokens/mint", token, gin.H{"subject": "svc-1", "role": "superuser"}); w.Code != 422 {
		t.Errorf("unknown role: status %d, want 422", w.Code)
	}
	if w := ts.do(t, "POST", "/tokens/mint", "", gin.H{"subject": "svc-1", "role": "agent"}); w.Code != 401 {
		t.Errorf("unauthenticated mint: status %d, want 401", w.Code)
	}
}
