package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

)

// DiscoverResponse is one page of the public agent listing.
type DiscoverResponse struct {
	Agents []PublicAgent `json:"agents"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// Discover lists alive agents. agentType is optional.
func (c *Client) Discover(ctx context.Context, agentType string, limit, offset int) (*DiscoverResponse, error) {
	q := url.Values{}
	if agentType != "" {
		q.Set("agent_type", agentType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	path := "/public/discover"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp DiscoverResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublicSearch runs the unauthenticated semantic search.
func (c *Client) PublicSearch(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/public/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublicAgent fetches the redacted view of one agent.
func (c *Client) PublicAgent(ctx context.Context, agentID string) (*PublicAgent, error) {
	var resp PublicAgent
	if err := c.do(ctx, http.MethodGet, "/public/agent/"+agentID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectResponse carries the endpoint handed out for a direct connection.
type ConnectResponse struct {
	Status        string `json:"status"`
	AgentID       string `json:"agent_id"`
	AgentEndpoint string `json:"agent_endpoint"`
	Message       string `json:"message"`
}

// Connect requests connection details for an alive agent.
func (c *Client) Connect(ctx context.Context, agentID string, req *ConnectionRequest) (*ConnectResponse, error) {
	var resp ConnectResponse
	if err := c.do(ctx, http.MethodPost, "/public/connect/"+agentID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats fetches the public registry aggregates.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.do(ctx, http.MethodGet, "/public/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentTypes lists the distinct registered agent types.
func (c *Client) AgentTypes(ctx context.Context) ([]string, error) {
	var resp struct {
		AgentTypes []string `json:"agent_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/public/agent_types", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AgentTypes, nil
}
