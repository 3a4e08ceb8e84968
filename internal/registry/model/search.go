package model

// Search bounds. TopK is clamped into [1, maxTopK]; MinSimilarity into [0,1].
const (
	DefaultTopK          = 10
	maxTopK              = 100
	DefaultMinSimilarity = 0.5
)

// SearchRequest is the semantic search payload.
type SearchRequest struct {
	Query         string   `json:"query" binding:"required"`
	TopK          int      `json:"top_k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Weighted      bool     `json:"weighted,omitempty"`
	AgentType     string   `json:"agent_type,omitempty"`
}

// Normalize clamps the tunables to their valid ranges and applies defaults.
// The caller supplies its configured defaults; out-of-range arguments fall
// back to the package constants.
func (r *SearchRequest) Normalize(defaultTopK int, defaultMinSimilarity float64) {
	if defaultTopK < 1 || defaultTopK > maxTopK {
		defaultTopK = DefaultTopK
	}
	if defaultMinSimilarity <= 0 || defaultMinSimilarity > 1 {
		defaultMinSimilarity = DefaultMinSimilarity
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	if r.MinSimilarity == nil {
		v := defaultMinSimilarity
		r.MinSimilarity = &v
	}
	if *r.MinSimilarity < 0 {
		*r.MinSimilarity = 0
	}
	if *r.MinSimilarity > 1 {
		*r.MinSimilarity = 1
	}
}

// SearchResult is one ranked hit. Similarity is the raw cosine (or lexical)
// score before any reputation weighting; the weighted rank decides ordering
// but is not exposed.
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

// SearchResponse wraps the ranked hits.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Mode    string         `json:"mode"` // vector | lexical
	Query   string         `json:"query"`
}
