// Package model defines the wire schemas of the agent registry: registration
// input, stored agent records, metrics, and the redacted public views.
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AgentStatus is the computed liveness of an agent. It is derived from
// last_seen and the heartbeat timeout at read time; it is never stored.
type AgentStatus string

const (
	StatusAlive AgentStatus = "alive"
	StatusDead  AgentStatus = "dead"
)

// CommunicationMode describes how clients reach an agent.
type CommunicationMode string

const (
	ModeRemote CommunicationMode = "remote"
	ModeLocal  CommunicationMode = "local"
	ModeHybrid CommunicationMode = "hybrid"
)

const (
	minPublicKeyLength = 32
	maxPublicKeyLength = 4096
)

// ErrValidation is a field-level validation failure surfaced as a 422.
type ErrValidation struct {
	Field string
	Msg   string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// AgentRegistration is the registration request payload.
type AgentRegistration struct {
	AgentID           string            `json:"agent_id" binding:"required"`
	Name              string            `json:"name" binding:"required"`
	AgentType         string            `json:"agent_type" binding:"required"`
	Endpoint          string            `json:"endpoint" binding:"required"`
	ContextBrief      string            `json:"context_brief" binding:"required"`
	Capabilities      []string          `json:"capabilities" binding:"required"`
	Owner             string            `json:"owner" binding:"required"`
	PublicKey         string            `json:"public_key" binding:"required"`
	Version           string            `json:"version" binding:"required"`
	CommunicationMode CommunicationMode `json:"communication_mode" binding:"required"`

	Features        []string       `json:"features,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	LanguageSupport []string       `json:"language_support,omitempty"`
	RateLimit       int            `json:"rate_limit,omitempty"`
	Requirements    map[string]any `json:"requirements,omitempty"`
	PolicyTags      []string       `json:"policy_tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Validate applies the field rules that go beyond presence checks.
func (r *AgentRegistration) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return &ErrValidation{Field: "agent_id", Msg: "must not be blank"}
	}
	if len(r.Capabilities) == 0 {
		return &ErrValidation{Field: "capabilities", Msg: "at least one capability is required"}
	}
	u, err := url.Parse(r.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ErrValidation{Field: "endpoint", Msg: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return &ErrValidation{Field: "endpoint", Msg: "scheme must be http(s) or ws(s)"}
	}
	if n := len(r.PublicKey); n < minPublicKeyLength || n > maxPublicKeyLength {
		return &ErrValidation{
			Field: "public_key",
			Msg:   fmt.Sprintf("length must be between %d and %d", minPublicKeyLength, maxPublicKeyLength),
		}
	}
	switch r.CommunicationMode {
	case ModeRemote, ModeLocal, ModeHybrid:
	default:
		return &ErrValidation{Field: "communication_mode", Msg: "must be remote, local, or hybrid"}
	}
	return nil
}

// AgentMetrics is the performance record attached to an agent.
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

// DefaultMetrics is the record a freshly registered agent starts with.
func DefaultMetrics(agentID string) *AgentMetrics {
	return &AgentMetrics{AgentID: agentID, SuccessRate: 1.0, ReputationScore: 3.0}
}

// MetricsUpdate is a partial metrics payload. Pointer fields distinguish
// "absent" from zero.
type MetricsUpdate struct {
	SuccessRate         *float64 `json:"success_rate,omitempty"`
	AvgResponseTime     *float64 `json:"avg_response_time,omitempty"`
	TotalRequests       *int64   `json:"total_requests,omitempty"`
	ReputationScore     *float64 `json:"reputation_score,omitempty"`
	RequestsProcessed   *int64   `json:"requests_processed,omitempty"`
	AverageResponseTime *float64 `json:"average_response_time,omitempty"`
	ErrorRate           *float64 `json:"error_rate,omitempty"`
}

// Validate bounds the updated values.
func (u *MetricsUpdate) Validate() error {
	if u.SuccessRate != nil && (*u.SuccessRate < 0 || *u.SuccessRate > 1) {
		return &ErrValidation{Field: "success_rate", Msg: "must be in [0,1]"}
	}
	if u.ErrorRate != nil && (*u.ErrorRate < 0 || *u.ErrorRate > 1) {
		return &ErrValidation{Field: "error_rate", Msg: "must be in [0,1]"}
	}
	if u.ReputationScore != nil && (*u.ReputationScore < 0 || *u.ReputationScore > 5) {
		return &ErrValidation{Field: "reputation_score", Msg: "must be in [0,5]"}
	}
	if u.AvgResponseTime != nil && *u.AvgResponseTime < 0 {
		return &ErrValidation{Field: "avg_response_time", Msg: "must be non-negative"}
	}
	if u.AverageResponseTime != nil && *u.AverageResponseTime < 0 {
		return &ErrValidation{Field: "average_response_time", Msg: "must be non-negative"}
	}
	if u.TotalRequests != nil && *u.TotalRequests < 0 {
		return &ErrValidation{Field: "total_requests", Msg: "must be non-negative"}
	}
	if u.RequestsProcessed != nil && *u.RequestsProcessed < 0 {
		return &ErrValidation{Field: "requests_processed", Msg: "must be non-negative"}
	}
	return nil
}

// AgentInfo is the stored agent record plus computed fields.
type AgentInfo struct {
	AgentID           string            `json:"agent_id"`
	Name              string            `json:"name"`
	AgentType         string            `json:"agent_type"`
	Endpoint          string            `json:"endpoint"`
	ContextBrief      string            `json:"context_brief"`
	Capabilities      []string          `json:"capabilities"`
	Owner             string            `json:"owner"`
	PublicKey         string            `json:"public_key"`
	Version           string            `json:"version"`
	CommunicationMode CommunicationMode `json:"communication_mode"`

	Features        []string       `json:"features,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	LanguageSupport []string       `json:"language_support,omitempty"`
	RateLimit       int            `json:"rate_limit,omitempty"`
	Requirements    map[string]any `json:"requirements,omitempty"`
	PolicyTags      []string       `json:"policy_tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	Status       AgentStatus   `json:"status"`
	LastSeen     time.Time     `json:"last_seen"`
	RegisteredAt time.Time     `json:"registered_at"`
	Metrics      *AgentMetrics `json:"metrics,omitempty"`

	// Similarity is transient: populated only on search results.
	Similarity float64 `json:"similarity,omitempty"`
}

// ComputeStatus derives liveness from last_seen at the given instant.
func (a *AgentInfo) ComputeStatus(now time.Time, heartbeatTimeout time.Duration) AgentStatus {
	if now.Sub(a.LastSeen) <= heartbeatTimeout {
		return StatusAlive
	}
	return StatusDead
}

// PublicAgent is the redacted view served to unauthenticated callers.
// Owner, key material, metadata, and internal metrics never cross this
// boundary.
type PublicAgent struct {
	AgentID      string      `json:"agent_id"`
	Name         string      `json:"name"`
	AgentType    string      `json:"agent_type"`
	Endpoint     string      `json:"endpoint"`
	ContextBrief string      `json:"context_brief"`
	Capabilities []string    `json:"capabilities"`
	Version      string      `json:"version"`
	Status       AgentStatus `json:"status"`
	LastSeen     time.Time   `json:"last_seen"`
	Similarity   float64     `json:"similarity,omitempty"`
}

// Public returns the redacted view of the agent.
func (a *AgentInfo) Public() PublicAgent {
	return PublicAgent{
		AgentID:      a.AgentID,
		Name:         a.Name,
		AgentType:    a.AgentType,
		Endpoint:     a.Endpoint,
		ContextBrief: a.ContextBrief,
		Capabilities: a.Capabilities,
		Version:      a.Version,
		Status:       a.Status,
		LastSeen:     a.LastSeen,
		Similarity:   a.Similarity,
	}
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Status   string    `json:"status"`
	AgentID  string    `json:"agent_id"`
	LastSeen time.Time `json:"last_seen"`
}

// ListFilter narrows list results. Capability filters use all-match
// semantics: an agent qualifies only when it has every listed capability.
type ListFilter struct {
	AgentType    string
	Status       AgentStatus
	Capabilities []string
}

// Matches reports whether the agent satisfies every set filter.
func (f *ListFilter) Matches(a *AgentInfo) bool {
	if f.AgentType != "" && a.AgentType != f.AgentType {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	for _, want := range f.Capabilities {
		found := false
		for _, have := range a.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ConnectionRequest is the payload forwarded by POST /public/connect/{id}.
type ConnectionRequest struct {
	UserID         string         `json:"user_id" binding:"required"`
	UserEndpoint   string         `json:"user_endpoint" binding:"required"`
	DisplayName    string         `json:"display_name,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// Stats is the aggregate published by /public/stats and the WS stream.
type Stats struct {
	TotalAgents int            `json:"total_agents"`
	AliveAgents int            `json:"alive_agents"`
	AgentTypes  map[string]int `json:"agent_types"`
	Timestamp   time.Time      `json:"timestamp"`
}
