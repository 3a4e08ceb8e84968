package handler

import (
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arcp-io/arcp/internal/registry/model"
)

func TestEnrollment_FullLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Phase one: the pre-shared key buys a temp token.
	temp := ts.tempToken(t, "a1", "key-one")

	// Phase two: the temp token completes the registration.
	w := ts.do(t, "POST", "/agents/register", temp, registrationPayload("a1"))
	if w.Code != 201 {
		t.Fatalf("register: status %d, body %s", w.Code, w.Body.String())
	}
	var regResp struct {
		Outcome     string `json:"outcome"`
		AccessToken string `json:"access_token"`
		Agent       struct {
			AgentID string `json:"agent_id"`
			Status  string `json:"status"`
		} `json:"agent"`
	}
	decode(t, w, &regResp)
	if regResp.Outcome != "created" {
		t.Errorf("outcome: got %q, want created", regResp.Outcome)
	}
	if regResp.Agent.Status != string(model.StatusAlive) {
		t.Errorf("status: got %q, want alive", regResp.Agent.Status)
	}
	agentToken := regResp.AccessToken

	// The permanent token drives the rest of the lifecycle.
	w = ts.do(t, "POST", "/agents/a1/heartbeat", agentToken, nil)
	if w.Code != 200 {
		t.Fatalf("heartbeat: status %d, body %s", w.Code, w.Body.String())
	}
	var hb model.HeartbeatResponse
	decode(t, w, &hb)
	if hb.AgentID != "a1" || hb.Status != "success" {
		t.Errorf("heartbeat response: %+v", hb)
	}

	w = ts.do(t, "POST", "/agents/a1/metrics", agentToken, gin.H{"success_rate": 0.9})
	if w.Code != 200 {
		t.Fatalf("update metrics: status %d, body %s", w.Code, w.Body.String())
	}
	var m model.AgentMetrics
	decode(t, w, &m)
	if m.SuccessRate != 0.9 {
		t.Errorf("success_rate: got %v, want 0.9", m.SuccessRate)
	}

	w = ts.do(t, "DELETE", "/agents/a1", agentToken, nil)
	if w.Code != 200 {
		t.Fatalf("unregister: status %d, body %s", w.Code, w.Body.String())
	}

	admin := ts.adminToken(t)
	if w := ts.do(t, "GET", "/agents/a1", admin, nil); w.Code != 404 {
		t.Errorf("get after unregister: status %d, want 404", w.Code)
	}
}

func TestRegister_ReregistrationIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	agentToken := ts.enroll(t, "a1", "key-one")

	// Same agent, same key binding: accepted without a conflict, not a 201.
	w := ts.do(t, "POST", "/agents/register", agentToken, registrationPayload("a1"))
	if w.Code != 200 {
		t.Fatalf("re-register: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Outcome string `json:"outcome"`
	}
	decode(t, w, &resp)
	if resp.Outcome != "already_alive" {
		t.Errorf("outcome: got %q, want already_alive", resp.Outcome)
	}
}

func TestRegister_TempTokenIdentityMismatch(t *testing.T) {
	ts := newTestServer(t)
	temp := ts.tempToken(t, "a1", "key-one")

	w := ts.do(t, "POST", "/agents/register", temp, registrationPayload("a2"))
	if w.Code != 403 {
		t.Fatalf("status %d, want 403", w.Code)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("insufficient-permissions") {
		t.Errorf("problem type: got %q", body.Type)
	}
}

func TestRegister_AdminWithoutKey(t *testing.T) {
	ts := newTestServer(t)
	// An admin token carries no enrollment key hash; the record it creates has
	// no key binding and stays manageable by admins.
	admin := ts.adminToken(t)
	w := ts.do(t, "POST", "/agents/register", admin, registrationPayload("a1"))
	if w.Code != 201 {
		t.Fatalf("admin register: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Outcome string `json:"outcome"`
		Agent   struct {
			AgentID string `json:"agent_id"`
			Status  string `json:"status"`
		} `json:"agent"`
	}
	decode(t, w, &resp)
	if resp.Outcome != "created" || resp.Agent.AgentID != "a1" {
		t.Errorf("admin registration response: %+v", resp)
	}
	if w := ts.do(t, "DELETE", "/agents/a1", admin, nil); w.Code != 200 {
		t.Errorf("admin unregister of keyless agent: status %d", w.Code)
	}
}

func TestRegister_NonAdminRequiresEnrollmentKey(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)

	// An agent-role token minted without an enrollment key cannot register.
	w := ts.do(t, "POST", "/tokens/mint", admin, gin.H{
		"subject":  "a1",
		"role":     "agent",
		"agent_id": "a1",
	})
	if w.Code != 200 {
		t.Fatalf("mint: status %d, body %s", w.Code, w.Body.String())
	}
	var minted struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &minted)

	if w := ts.do(t, "POST", "/agents/register", minted.AccessToken, registrationPayload("a1")); w.Code != 403 {
		t.Errorf("keyless agent register: status %d, want 403", w.Code)
	}
}

func TestRegister_KeyBoundToAnotherAgent(t *testing.T) {
	ts := newTestServer(t)
	// Phase one for a2 happens before the key is bound, so only phase two can
	// surface the conflict.
	temp := ts.tempToken(t, "a2", "key-one")
	ts.enroll(t, "a1", "key-one")

	w := ts.do(t, "POST", "/agents/register", temp, registrationPayload("a2"))
	if w.Code != 409 {
		t.Fatalf("status %d, want 409", w.Code)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("agent-key-in-use") {
		t.Errorf("problem type: got %q", body.Type)
	}
}

func TestRegister_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)
	temp := ts.tempToken(t, "a1", "key-one")

	payload := registrationPayload("a1")
	payload["endpoint"] = "ftp://host"
	w := ts.do(t, "POST", "/agents/register", temp, payload)
	if w.Code != 422 {
		t.Fatalf("status %d, want 422", w.Code)
	}
	var body problemBody
	decode(t, w, &body)
	if body.Type != problemType("validation-error") {
		t.Errorf("problem type: got %q", body.Type)
	}
}

func TestTempToken_RestrictedToRegistration(t *testing.T) {
	ts := newTestServer(t)
	ts.enroll(t, "a1", "key-one")

	// A fresh temp token for the same identity cannot drive other endpoints.
	temp := ts.tempToken(t, "a1", "key-one")
	if w := ts.do(t, "POST", "/agents/a1/heartbeat", temp, nil); w.Code != 403 {
		t.Errorf("heartbeat with temp token: status %d, want 403", w.Code)
	}
	if w := ts.do(t, "POST", "/agents/search", temp, gin.H{"query": "weather"}); w.Code != 403 {
		t.Errorf("search with temp token: status %d, want 403", w.Code)
	}
}

func TestAgentsList_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	agentToken := ts.enroll(t, "a1", "key-one")

	if w := ts.do(t, "GET", "/agents", "", nil); w.Code != 401 {
		t.Errorf("unauthenticated list: status %d, want 401", w.Code)
	}
	if w := ts.do(t, "GET", "/agents", agentToken, nil); w.Code != 403 {
		t.Errorf("agent-token list: status %d, want 403", w.Code)
	}

	admin := ts.adminToken(t)
	w := ts.do(t, "GET", "/agents", admin, nil)
	if w.Code != 200 {
		t.Fatalf("admin list: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count  int `json:"count"`
		Agents []struct {
			AgentID string `json:"agent_id"`
		} `json:"agents"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || len(resp.Agents) != 1 || resp.Agents[0].AgentID != "a1" {
		t.Errorf("list response: %+v", resp)
	}
}

func TestAgentsList_Filters(t *testing.T) {
	ts := newTestServer(t)
	ts.enroll(t, "a1", "key-one")
	ts.enroll(t, "a2", "key-two")
	admin := ts.adminToken(t)

	w := ts.do(t, "GET", "/agents?agent_type=tool", admin, nil)
	if w.Code != 200 {
		t.Fatalf("filtered list: status %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 0 {
		t.Errorf("type filter: got %d agents, want 0", resp.Count)
	}

	w = ts.do(t, "GET", "/agents?capabilities=chat,weather", admin, nil)
	decode(t, w, &resp)
	if resp.Count != 2 {
		t.Errorf("capability filter: got %d agents, want 2", resp.Count)
	}
}

func TestAgent_CannotManagePeer(t *testing.T) {
	ts := newTestServer(t)
	a1 := ts.enroll(t, "a1", "key-one")
	ts.enroll(t, "a2", "key-two")

	if w := ts.do(t, "DELETE", "/agents/a2", a1, nil); w.Code != 403 {
		t.Errorf("cross-agent unregister: status %d, want 403", w.Code)
	}
	if w := ts.do(t, "POST", "/agents/a2/heartbeat", a1, nil); w.Code != 403 {
		t.Errorf("cross-agent heartbeat: status %d, want 403", w.Code)
	}
	if w := ts.do(t, "POST", "/agents/a2/metrics", a1, gin.H{"success_rate": 0.1}); w.Code != 403 {
		t.Errorf("cross-agent metrics: status %d, want 403", w.Code)
	}
}

func TestAdmin_CanManageAnyAgent(t *testing.T) {
	ts := newTestServer(t)
	ts.enroll(t, "a1", "key-one")
	admin := ts.adminToken(t)

	if w := ts.do(t, "GET", "/agents/a1", admin, nil); w.Code != 200 {
		t.Errorf("admin get: status %d", w.Code)
	}
	if w := ts.do(t, "DELETE", "/agents/a1", admin, nil); w.Code != 200 {
		t.Errorf("admin unregister: status %d", w.Code)
	}
}

func TestUpdateMetrics_RejectsOutOfRange(t *testing.T) {
	ts := newTestServer(t)
	agentToken := ts.enroll(t, "a1", "key-one")

	w := ts.do(t, "POST", "/agents/a1/metrics", agentToken, gin.H{"success_rate": 1.5})
	if w.Code != 422 {
		t.Errorf("out-of-range success_rate: status %d, want 422", w.Code)
	}
}

func TestAgentsSearch_ReturnsOwner(t *testing.T) {
	ts := newTestServer(t)
	agentToken := ts.enroll(t, "a1", "key-one")

	w := ts.do(t, "POST", "/agents/search", agentToken, gin.H{"query": "weather"})
	if w.Code != 200 {
		t.Fatalf("search: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Mode    string `json:"mode"`
		Results []struct {
			ID    string `json:"id"`
			Owner string `json:"owner"`
		} `json:"results"`
	}
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != "a1" {
		t.Fatalf("results: %+v", resp.Results)
	}
	if resp.Results[0].Owner != "ops@example.com" {
		t.Errorf("authenticated search must keep the owner, got %q", resp.Results[0].Owner)
	}
}
