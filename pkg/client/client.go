// Package client is a typed Go client for an ARCP registry server. It covers
// the full agent lifecycle (enrollment, registration, heartbeat, metrics) and
// the public discovery surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

)

// defaultTimeout bounds every request unless the caller's context is shorter.
const defaultTimeout = 30 * time.Second

// Client talks to one ARCP server. Zero-value is not usable; construct with
// New. Client is safe for concurrent use once configured.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken pre-sets the bearer token, e.g. a token minted by an admin.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token the client currently holds.
func (c *Client) Token() string { return c.token }

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) { c.token = token }

// APIError is a non-2xx response, carrying the RFC 7807 problem fields when
// the server supplied them.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("arcp: %s (status %d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("arcp: request failed with status %d", e.StatusCode)
}

// do executes one JSON request; out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// TokenResponse is the common shape of token-bearing responses.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TempToken   string `json:"temp_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login authenticates as the registry admin and stores the session token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.AccessToken
	return nil
}

// RequestTempToken is phase one of enrollment: it exchanges a pre-shared
// agent key for a short-lived registration token, which the client stores.
func (c *Client) RequestTempToken(ctx context.Context, agentID, agentType, agentKey string) error {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/agent/request_temp_token", map[string]string{
		"agent_id":   agentID,
		"agent_type": agentType,
		"agent_key":  agentKey,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.TempToken
	return nil
}

// RegisterResponse is the registration result.
type RegisterResponse struct {
	Agent       *AgentInfo `json:"agent"`
	Outcome     string           `json:"outcome"`
	AccessToken string           `json:"access_token"`
	ExpiresIn   int              `json:"expires_in"`
}

// Register completes enrollment. On success the client swaps its temp token
// for the permanent agent token from the response.
func (c *Client) Register(ctx context.Context, reg *AgentRegistration) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/agents/register", reg, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken != "" {
		c.token = resp.AccessToken
	}
	return &resp, nil
}

// Heartbeat refreshes the agent's liveness.
func (c *Client) Heartbeat(ctx context.Context, agentID string) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/heartbeat", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateMetrics merges a partial metrics update.
func (c *Client) UpdateMetrics(ctx context.Context, agentID string, upd *MetricsUpdate) (*AgentMetrics, error) {
	var resp AgentMetrics
	if err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/metrics", upd, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unregister removes the agent.
func (c *Client) Unregister(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+agentID, nil, nil)
}

// Search runs the authenticated semantic search.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/agents/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshToken exchanges the current token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context) error {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "/tokens/refresh", map[string]string{"token": c.token}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.AccessToken
	return nil
}
