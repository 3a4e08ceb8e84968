package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/bus"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/embedding"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/registry/model"
	"github.com/arcp-io/arcp/internal/storage"
)

// RegistrationOutcome distinguishes how a registration landed.
type RegistrationOutcome string

const (
	// OutcomeCreated means the agent_id was new.
	OutcomeCreated RegistrationOutcome = "created"
	// OutcomeAlreadyAlive means a live agent refreshed its own record.
	OutcomeAlreadyAlive RegistrationOutcome = "already_alive"
	// OutcomeReplacedDead means a stale record was overwritten.
	OutcomeReplacedDead RegistrationOutcome = "replaced_dead"
)

// Registry is the agent lifecycle service.
type Registry struct {
	cfg      *config.Config
	store    *Store
	embedder embedding.Provider
	events   *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	now func() time.Time
}

// NewRegistry wires the lifecycle service.
func NewRegistry(cfg *config.Config, store *Store, embedder embedding.Provider, events *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		events:   events,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (r *Registry) SetNow(now func() time.Time) { r.now = now }

// Register applies a registration under the agent's shard lock. keyHash is
// the digest of the pre-shared key the caller enrolled with; it becomes the
// agent's exclusive binding. An empty keyHash (admin-driven registration)
// creates the record without a binding.
func (r *Registry) Register(ctx context.Context, reg *model.AgentRegistration, keyHash string) (*model.AgentInfo, RegistrationOutcome, error) {
	if err := reg.Validate(); err != nil {
		return nil, "", err
	}
	if !r.cfg.AgentTypeAllowed(reg.AgentType) {
		return nil, "", &model.ErrValidation{Field: "agent_type", Msg: "agent type not allowed"}
	}

	lock := r.store.shard(reg.AgentID)
	lock.Lock()
	defer lock.Unlock()

	now := r.now().UTC()
	newHash := infoHash(reg)

	r.store.mu.Lock()
	if keyHash != "" {
		if owner, bound := r.store.keyOwners[keyHash]; bound && owner != reg.AgentID {
			r.store.mu.Unlock()
			return nil, "", fmt.Errorf("%w: key bound to another agent", ErrAgentKeyInUse)
		}
	}
	existing := r.store.records[reg.AgentID]
	prevHash := r.store.infoHashes[reg.AgentID]
	r.store.mu.Unlock()

	outcome := OutcomeCreated
	if existing != nil {
		alive := existing.ComputeStatus(now, r.cfg.HeartbeatTimeout) == model.StatusAlive
		switch {
		case existing.KeyHash == keyHash && alive:
			if newHash == prevHash {
				// Identical re-registration of a live agent: leave the
				// record untouched so last_seen still reflects the real
				// heartbeat, and publish nothing.
				info := existing.AgentInfo
				info.Status = model.StatusAlive
				r.metrics.Registrations.WithLabelValues(string(OutcomeAlreadyAlive)).Inc()
				info.Metrics = r.metricsFor(reg.AgentID)
				return &info, OutcomeAlreadyAlive, nil
			}
			outcome = OutcomeAlreadyAlive
		case existing.KeyHash == keyHash:
			outcome = OutcomeReplacedDead
		case alive:
			// A live agent cannot be displaced by a different key.
			return nil, "", fmt.Errorf("%w: agent_id is registered and alive", ErrRegistration)
		default:
			// Dead record, new key: release the old binding and take over.
			outcome = OutcomeReplacedDead
		}
	}

	rec := &storedAgent{
		AgentInfo: model.AgentInfo{
			AgentID:           reg.AgentID,
			Name:              reg.Name,
			AgentType:         reg.AgentType,
			Endpoint:          reg.Endpoint,
			ContextBrief:      reg.ContextBrief,
			Capabilities:      reg.Capabilities,
			Owner:             reg.Owner,
			PublicKey:         reg.PublicKey,
			Version:           reg.Version,
			CommunicationMode: reg.CommunicationMode,
			Features:          reg.Features,
			MaxTokens:         reg.MaxTokens,
			LanguageSupport:   reg.LanguageSupport,
			RateLimit:         reg.RateLimit,
			Requirements:      reg.Requirements,
			PolicyTags:        reg.PolicyTags,
			Metadata:          reg.Metadata,
			Status:            model.StatusAlive,
			LastSeen:          now,
			RegisteredAt:      now,
		},
		KeyHash: keyHash,
	}
	if existing != nil {
		rec.RegisteredAt = existing.RegisteredAt
	}

	var vector []float32
	if newHash != prevHash && r.embedder.Available() {
		// Re-embed only when the descriptive fields actually changed.
		if vec, err := r.embedder.Embed(ctx, embeddingText(reg)); err == nil {
			vector = vec
		} else if !errors.Is(err, embedding.ErrUnavailable) {
			r.logger.Warn("embedding failed, search falls back to lexical",
				zap.String("agent_id", reg.AgentID), zap.Error(err))
		}
	}

	r.store.mu.Lock()
	if existing != nil && existing.KeyHash != "" && existing.KeyHash != keyHash {
		delete(r.store.keyOwners, existing.KeyHash)
	}
	r.store.records[reg.AgentID] = rec
	if keyHash != "" {
		r.store.keyOwners[keyHash] = reg.AgentID
	}
	r.store.infoHashes[reg.AgentID] = newHash
	if vector != nil {
		r.store.embeddings[reg.AgentID] = vector
	} else if newHash != prevHash {
		delete(r.store.embeddings, reg.AgentID)
	}
	if _, ok := r.store.metrics[reg.AgentID]; !ok {
		r.store.metrics[reg.AgentID] = model.DefaultMetrics(reg.AgentID)
	}
	r.store.mu.Unlock()

	r.store.persistRecord(ctx, rec)
	if existing != nil && existing.KeyHash != "" && existing.KeyHash != keyHash {
		if err := r.store.adapter.HDel(ctx, keysBucket, existing.KeyHash); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			r.logger.Warn("stale key binding delete failed", zap.Error(err))
		}
	}

	r.metrics.Registrations.WithLabelValues(string(outcome)).Inc()
	r.events.Publish(bus.Event{
		Topic:   bus.TopicAgent,
		Type:    "registered",
		AgentID: reg.AgentID,
		Payload: rec.Public(),
	})

	info := rec.AgentInfo
	info.Metrics = r.metricsFor(reg.AgentID)
	return &info, outcome, nil
}

// embeddingText is the document embedded for an agent.
func embeddingText(r *model.AgentRegistration) string {
	parts := append([]string{r.Name, r.ContextBrief}, r.Capabilities...)
	return strings.Join(parts, " ")
}

// Heartbeat refreshes the agent's last_seen.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) (*model.HeartbeatResponse, error) {
	lock := r.store.shard(agentID)
	lock.Lock()
	defer lock.Unlock()

	r.store.mu.Lock()
	rec, ok := r.store.records[agentID]
	if !ok {
		r.store.mu.Unlock()
		return nil, ErrAgentNotFound
	}
	now := r.now().UTC()
	rec.LastSeen = now
	rec.Status = model.StatusAlive
	r.store.mu.Unlock()

	raw, err := json.Marshal(rec)
	if err == nil {
		if perr := r.store.adapter.HSet(ctx, agentsBucket, agentID, raw); perr != nil && !errors.Is(perr, storage.ErrBackendTransient) {
			r.logger.Warn("heartbeat persist failed", zap.String("agent_id", agentID), zap.Error(perr))
		}
	}

	r.metrics.Heartbeats.Inc()
	return &model.HeartbeatResponse{Status: "success", AgentID: agentID, LastSeen: now}, nil
}

// UpdateMetrics merges a partial metrics update. total_requests and
// requests_processed are monotonic: an update can never lower them.
func (r *Registry) UpdateMetrics(ctx context.Context, agentID string, upd *model.MetricsUpdate) (*model.AgentMetrics, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	lock := r.store.shard(agentID)
	lock.Lock()
	defer lock.Unlock()

	r.store.mu.Lock()
	if _, ok := r.store.records[agentID]; !ok {
		r.store.mu.Unlock()
		return nil, ErrAgentNotFound
	}
	m, ok := r.store.metrics[agentID]
	if !ok {
		m = model.DefaultMetrics(agentID)
		r.store.metrics[agentID] = m
	}
	if upd.SuccessRate != nil {
		m.SuccessRate = *upd.SuccessRate
	}
	if upd.AvgResponseTime != nil {
		m.AvgResponseTime = *upd.AvgResponseTime
	}
	if upd.TotalRequests != nil && *upd.TotalRequests > m.TotalRequests {
		m.TotalRequests = *upd.TotalRequests
	}
	if upd.ReputationScore != nil {
		m.ReputationScore = *upd.ReputationScore
	}
	if upd.RequestsProcessed != nil && *upd.RequestsProcessed > m.RequestsProcessed {
		m.RequestsProcessed = *upd.RequestsProcessed
	}
	if upd.AverageResponseTime != nil {
		m.AverageResponseTime = *upd.AverageResponseTime
	}
	if upd.ErrorRate != nil {
		m.ErrorRate = *upd.ErrorRate
	}
	now := r.now().UTC()
	m.LastActive = &now
	snapshot := *m
	r.store.mu.Unlock()

	if raw, err := json.Marshal(&snapshot); err == nil {
		if perr := r.store.adapter.HSet(ctx, metricsBucket, agentID, raw); perr != nil && !errors.Is(perr, storage.ErrBackendTransient) {
			r.logger.Warn("metrics persist failed", zap.String("agent_id", agentID), zap.Error(perr))
		}
	}

	r.events.Publish(bus.Event{Topic: bus.TopicMetrics, Type: "metrics", AgentID: agentID, Payload: snapshot})
	return &snapshot, nil
}

// Unregister removes the agent and all satellite records.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	lock := r.store.shard(agentID)
	lock.Lock()
	defer lock.Unlock()

	r.store.mu.RLock()
	_, ok := r.store.records[agentID]
	r.store.mu.RUnlock()
	if !ok {
		return ErrAgentNotFound
	}

	r.store.removeRecord(ctx, agentID)
	r.metrics.Unregistrations.Inc()
	r.events.Publish(bus.Event{Topic: bus.TopicAgent, Type: "unregistered", AgentID: agentID})
	return nil
}

// Get returns a copy of the agent record with computed status and metrics.
func (r *Registry) Get(agentID string) (*model.AgentInfo, error) {
	now := r.now().UTC()

	r.store.mu.RLock()
	rec, ok := r.store.records[agentID]
	if !ok {
		r.store.mu.RUnlock()
		return nil, ErrAgentNotFound
	}
	info := rec.AgentInfo
	r.store.mu.RUnlock()

	info.Status = info.ComputeStatus(now, r.cfg.HeartbeatTimeout)
	info.Metrics = r.metricsFor(agentID)
	return &info, nil
}

// List returns all agents matching the filter, ordered by agent_id.
func (r *Registry) List(filter *model.ListFilter) []*model.AgentInfo {
	now := r.now().UTC()

	r.store.mu.RLock()
	out := make([]*model.AgentInfo, 0, len(r.store.records))
	for id, rec := range r.store.records {
		info := rec.AgentInfo
		info.Status = info.ComputeStatus(now, r.cfg.HeartbeatTimeout)
		if filter != nil && !filter.Matches(&info) {
			continue
		}
		if m, ok := r.store.metrics[id]; ok {
			cp := *m
			info.Metrics = &cp
		}
		out = append(out, &info)
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Metrics returns the agent's metrics record.
func (r *Registry) Metrics(agentID string) (*model.AgentMetrics, error) {
	r.store.mu.RLock()
	_, ok := r.store.records[agentID]
	r.store.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotFound
	}
	if m := r.metricsFor(agentID); m != nil {
		return m, nil
	}
	return model.DefaultMetrics(agentID), nil
}

func (r *Registry) metricsFor(agentID string) *model.AgentMetrics {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if m, ok := r.store.metrics[agentID]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// Owns reports whether keyHash is the binding for agentID. Agent-scoped
// endpoints use it to stop one agent from driving another's lifecycle. A
// record registered without a key has no binding to contest, so any token
// scoped to that agent_id manages it.
func (r *Registry) Owns(agentID, keyHash string) bool {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[agentID]
	return ok && (rec.KeyHash == "" || rec.KeyHash == keyHash)
}

// KeyAvailableFor reports whether keyHash may start an enrollment for
// agentID: the key is unbound, already bound to that same agent, or bound to
// an agent that is no longer alive.
func (r *Registry) KeyAvailableFor(keyHash, agentID string) bool {
	if keyHash == "" {
		return true
	}
	now := r.now().UTC()

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	owner, bound := r.store.keyOwners[keyHash]
	if !bound || owner == agentID {
		return true
	}
	rec, ok := r.store.records[owner]
	if !ok {
		return true
	}
	return rec.ComputeStatus(now, r.cfg.HeartbeatTimeout) != model.StatusAlive
}

// Stats aggregates registry counts for the public surface.
func (r *Registry) Stats() model.Stats {
	now := r.now().UTC()
	stats := model.Stats{AgentTypes: map[string]int{}, Timestamp: now}

	r.store.mu.RLock()
	for _, rec := range r.store.records {
		stats.TotalAgents++
		stats.AgentTypes[rec.AgentType]++
		if rec.ComputeStatus(now, r.cfg.HeartbeatTimeout) == model.StatusAlive {
			stats.AliveAgents++
		}
	}
	r.store.mu.RUnlock()

	r.metrics.AgentsAlive.Set(float64(stats.AliveAgents))
	return stats
}

// AgentTypes returns the distinct registered types, sorted.
func (r *Registry) AgentTypes() []string {
	r.store.mu.RLock()
	set := map[string]struct{}{}
	for _, rec := range r.store.records {
		set[rec.AgentType] = struct{}{}
	}
	r.store.mu.RUnlock()

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// staleThreshold is the age past which cleanup removes an agent. Dead is not
// stale: a dead agent stays visible for one more timeout so operators can see
// it went down before it disappears.
func (r *Registry) staleThreshold() time.Duration {
	return 2 * r.cfg.HeartbeatTimeout
}

// CleanupStale removes agents whose last_seen is older than the stale
// threshold and returns how many were removed.
func (r *Registry) CleanupStale(ctx context.Context) int {
	now := r.now().UTC()
	threshold := r.staleThreshold()

	r.store.mu.RLock()
	var stale []string
	for id, rec := range r.store.records {
		if now.Sub(rec.LastSeen) > threshold {
			stale = append(stale, id)
		}
	}
	r.store.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		lock := r.store.shard(id)
		lock.Lock()
		r.store.mu.RLock()
		rec, ok := r.store.records[id]
		fresh := ok && now.Sub(rec.LastSeen) <= threshold
		r.store.mu.RUnlock()
		if !ok || fresh {
			// Heartbeat raced the sweep; leave it alone.
			lock.Unlock()
			continue
		}
		r.store.removeRecord(ctx, id)
		lock.Unlock()

		removed++
		r.metrics.CleanupRemoved.Inc()
		r.metrics.Unregistrations.Inc()
		r.events.Publish(bus.Event{Topic: bus.TopicAgent, Type: "unregistered", AgentID: id})
		r.logger.Info("removed stale agent", zap.String("agent_id", id))
	}
	return removed
}

// RunCleanup sweeps stale agents every cleanup interval until ctx ends.
func (r *Registry) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.CleanupStale(ctx); n > 0 {
				r.logger.Info("cleanup sweep complete", zap.Int("removed", n))
			}
		}
	}
}
