package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/bus"
	"github.com/arcp-io/arcp/internal/registry/model"
)

// Search ranking modes.
const (
	SearchModeVector  = "vector"
	SearchModeLexical = "lexical"
)

// Search ranks alive agents against the query. Vector ranking needs both a
// live embedding provider and stored vectors; anything short of that degrades
// to lexical token overlap rather than failing the request.
//
// The min_similarity cut always applies to the RAW similarity. Reputation
// weighting reorders the survivors, it never resurrects a filtered agent.
func (r *Registry) Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResponse, error) {
	req.Normalize(r.cfg.VectorSearchTopK, r.cfg.VectorSearchMinSimilarity)
	start := time.Now()

	candidates := r.List(&model.ListFilter{
		AgentType:    req.AgentType,
		Status:       model.StatusAlive,
		Capabilities: req.Capabilities,
	})

	mode := SearchModeLexical
	var queryVec []float32
	if r.embedder.Available() && r.embeddingCount() > 0 {
		vec, err := r.embedder.Embed(ctx, req.Query)
		if err == nil && len(vec) > 0 {
			queryVec = vec
			mode = SearchModeVector
		} else if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		} else if err != nil {
			r.logger.Warn("query embedding failed, using lexical ranking", zap.Error(err))
		}
	}

	type scored struct {
		agent *model.AgentInfo
		raw   float64
		rank  float64
	}
	var hits []scored

	minSim := *req.MinSimilarity
	for _, agent := range candidates {
		var raw float64
		switch mode {
		case SearchModeVector:
			r.store.mu.RLock()
			vec, ok := r.store.embeddings[agent.AgentID]
			r.store.mu.RUnlock()
			if !ok {
				// No vector for this agent: score its text instead so a
				// missing embedding does not hide it entirely.
				raw = lexicalScore(req.Query, agent)
			} else {
				raw = cosineSimilarity(queryVec, vec)
			}
		default:
			raw = lexicalScore(req.Query, agent)
		}

		if raw < minSim {
			continue
		}

		rank := raw
		if req.Weighted {
			rep := 3.0
			if agent.Metrics != nil {
				rep = agent.Metrics.ReputationScore
			}
			rank = raw * (0.5 + rep/10)
		}
		hits = append(hits, scored{agent: agent, raw: raw, rank: rank})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank > hits[j].rank
		}
		return hits[i].agent.AgentID < hits[j].agent.AgentID
	})
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResult{
			AgentID:      h.agent.AgentID,
			Name:         h.agent.Name,
			URL:          h.agent.Endpoint,
			Capabilities: h.agent.Capabilities,
			ContextBrief: h.agent.ContextBrief,
			Similarity:   h.raw,
			Version:      h.agent.Version,
			Owner:        h.agent.Owner,
		})
	}

	r.metrics.Searches.WithLabelValues(mode).Inc()
	r.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	r.events.Publish(bus.Event{Topic: bus.TopicMetrics, Type: "search", Payload: map[string]any{
		"mode": mode, "results": len(results),
	}})

	return &model.SearchResponse{Results: results, Mode: mode, Query: req.Query}, nil
}

// embeddingCount reports how many agents currently have a stored vector.
// With an empty index there is nothing to rank against, so the query is not
// embedded at all and ranking stays lexical.
func (r *Registry) embeddingCount() int {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.embeddings)
}

// cosineSimilarity returns the cosine of the two vectors, clamped to [0,1].
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// lexicalScore is the fallback ranking: the fraction of query tokens that
// appear in the agent's name, context brief, or capabilities. Always in [0,1].
func lexicalScore(query string, agent *model.AgentInfo) float64 {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}

	var doc strings.Builder
	doc.WriteString(strings.ToLower(agent.Name))
	doc.WriteByte(' ')
	doc.WriteString(strings.ToLower(agent.ContextBrief))
	for _, c := range agent.Capabilities {
		doc.WriteByte(' ')
		doc.WriteString(strings.ToLower(c))
	}
	haystack := doc.String()

	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}
