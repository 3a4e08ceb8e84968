package client

import "time"

// The types below mirror the server's wire shapes. They are defined here
// rather than shared so importers of this package never depend on server
// internals.

// AgentRegistration is the payload for Register.
type AgentRegistration struct {
	AgentID           string   `json:"agent_id"`
	Name              string   `json:"name"`
	AgentType         string   `json:"agent_type"`
	Endpoint          string   `json:"endpoint"`
	ContextBrief      string   `json:"context_brief"`
	Capabilities      []string `json:"capabilities"`
	Owner             string   `json:"owner"`
	PublicKey         string   `json:"public_key"`
	Version           string   `json:"version"`
	CommunicationMode string   `json:"communication_mode"`

	Features        []string       `json:"features,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	LanguageSupport []string       `json:"language_support,omitempty"`
	RateLimit       int            `json:"rate_limit,omitempty"`
	Requirements    map[string]any `json:"requirements,omitempty"`
	PolicyTags      []string       `json:"policy_tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AgentInfo is the authenticated view of a registered agent.
type AgentInfo struct {
	AgentID           string         `json:"agent_id"`
	Name              string         `json:"name"`
	AgentType         string         `json:"agent_type"`
	Endpoint          string         `json:"endpoint"`
	ContextBrief      string         `json:"context_brief"`
	Capabilities      []string       `json:"capabilities"`
	Owner             string         `json:"owner"`
	Version           string         `json:"version"`
	CommunicationMode string         `json:"communication_mode"`
	Status            string         `json:"status"`
	LastSeen          time.Time      `json:"last_seen"`
	RegisteredAt      time.Time      `json:"registered_at"`
	Metrics           *AgentMetrics  `json:"metrics,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// PublicAgent is the redacted view served by the public surface.
type PublicAgent struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	AgentType    string    `json:"agent_type"`
	Endpoint     string    `json:"endpoint"`
	ContextBrief string    `json:"context_brief"`
	Capabilities []string  `json:"capabilities"`
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	Similarity   float64   `json:"similarity,omitempty"`
}

// AgentMetrics is an agent's performance record.
type AgentMetrics struct {
	AgentID             string     `json:"agent_id"`
	SuccessRate         float64    `json:"success_rate"`
	AvgResponseTime     float64    `json:"avg_response_time"`
	TotalRequests       int64      `json:"total_requests"`
	ReputationScore     float64    `json:"reputation_score"`
	RequestsProcessed   int64      `json:"requests_processed"`
	AverageResponseTime float64    `json:"average_response_time"`
	ErrorRate           float64    `json:"error_rate"`
	LastActive          *time.Time `json:"last_active,omitempty"`
}

// MetricsUpdate is a partial metrics payload; nil fields are left untouched.
type MetricsUpdate struct {
	SuccessRate         *float64 `json:"success_rate,omitempty"`
	AvgResponseTime     *float64 `json:"avg_response_time,omitempty"`
	TotalRequests       *int64   `json:"total_requests,omitempty"`
	ReputationScore     *float64 `json:"reputation_score,omitempty"`
	RequestsProcessed   *int64   `json:"requests_processed,omitempty"`
	AverageResponseTime *float64 `json:"average_response_time,omitempty"`
	ErrorRate           *float64 `json:"error_rate,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Status   string    `json:"status"`
	AgentID  string    `json:"agent_id"`
	LastSeen time.Time `json:"last_seen"`
}

// SearchRequest parameterizes semantic search.
type SearchRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Weighted      bool     `json:"weighted,omitempty"`
	AgentType     string   `json:"agent_type,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	AgentID      string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Capabilities []string `json:"capabilities"`
	ContextBrief string   `json:"context_brief"`
	Similarity   float64  `json:"similarity"`
	Version      string   `json:"version"`
	Owner        string   `json:"owner,omitempty"`
}

// SearchResponse is the search result page.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Mode    string         `json:"mode"`
	Query   string         `json:"query"`
}

// ConnectionRequest identifies the party asking to connect to an agent.
type ConnectionRequest struct {
	UserID         string         `json:"user_id"`
	UserEndpoint   string         `json:"user_endpoint"`
	DisplayName    string         `json:"display_name,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// Stats is the public registry aggregate.
type Stats struct {
	TotalAgents int            `json:"total_agents"`
	AliveAgents int            `json:"alive_agents"`
	AgentTypes  map[string]int `json:"agent_types"`
	Timestamp   time.Time      `json:"timestamp"`
}
