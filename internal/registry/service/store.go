// Package service implements the registry core: the authoritative in-memory
// agent state with write-through persistence, the lifecycle operations, and
// semantic search.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/registry/model"
	"github.com/arcp-io/arcp/internal/storage"
)

// Storage buckets. Each holds one JSON document per agent, keyed by agent_id,
// except keysBucket which maps key hash to agent_id.
const (
	agentsBucket     = "agents"
	embeddingsBucket = "embeddings"
	metricsBucket    = "agent_metrics"
	infoHashBucket   = "agent_info_hashes"
	keysBucket       = "agent_keys"
)

// lockShards is the size of the per-agent mutex table.
const lockShards = 32

var (
	// ErrAgentNotFound is returned when the agent_id has no record.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentKeyInUse is returned when the registration key is already
	// bound to a different agent_id.
	ErrAgentKeyInUse = errors.New("agent key already in use")
	// ErrRegistration covers the remaining registration conflicts, such as
	// re-registering an alive agent with a different key.
	ErrRegistration = errors.New("agent registration rejected")
)

// storedAgent is the persisted shape of a record. The key hash stays out of
// model.AgentInfo so it can never leak through an API response.
type storedAgent struct {
	model.AgentInfo
	KeyHash string `json:"key_hash,omitempty"`
}

// Store is the authoritative agent state. Five coupled maps are mutated
// together under a per-agent shard lock and written through to storage;
// storage is the recovery source, memory is the read path.
type Store struct {
	adapter *storage.Adapter
	logger  *zap.Logger

	shards [lockShards]sync.Mutex

	mu         sync.RWMutex
	records    map[string]*storedAgent
	embeddings map[string][]float32
	metrics    map[string]*model.AgentMetrics
	infoHashes map[string]string
	keyOwners  map[string]string // key hash -> agent_id
}

// NewStore creates an empty Store over the given storage adapter.
func NewStore(adapter *storage.Adapter, logger *zap.Logger) *Store {
	return &Store{
		adapter:    adapter,
		logger:     logger,
		records:    make(map[string]*storedAgent),
		embeddings: make(map[string][]float32),
		metrics:    make(map[string]*model.AgentMetrics),
		infoHashes: make(map[string]string),
		keyOwners:  make(map[string]string),
	}
}

// shard returns the mutex serializing mutations for agentID.
func (s *Store) shard(agentID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return &s.shards[h.Sum32()%lockShards]
}

// Load rebuilds the in-memory maps from storage. Records that fail to decode
// are skipped with a warning rather than aborting startup.
func (s *Store) Load(ctx context.Context) error {
	ids, err := s.adapter.HKeys(ctx, agentsBucket)
	if err != nil {
		return fmt.Errorf("load agent ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		raw, err := s.adapter.HGet(ctx, agentsBucket, id)
		if err != nil {
			s.logger.Warn("load: skipping unreadable agent", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		var rec storedAgent
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn("load: skipping undecodable agent", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		s.records[id] = &rec
		if rec.KeyHash != "" {
			s.keyOwners[rec.KeyHash] = id
		}

		if raw, err := s.adapter.HGet(ctx, embeddingsBucket, id); err == nil {
			var vec []float32
			if json.Unmarshal(raw, &vec) == nil && len(vec) > 0 {
				s.embeddings[id] = vec
			}
		}
		if raw, err := s.adapter.HGet(ctx, metricsBucket, id); err == nil {
			var m model.AgentMetrics
			if json.Unmarshal(raw, &m) == nil {
				s.metrics[id] = &m
			}
		}
		if raw, err := s.adapter.HGet(ctx, infoHashBucket, id); err == nil {
			s.infoHashes[id] = string(raw)
		}
	}

	s.logger.Info("registry state loaded", zap.Int("agents", len(s.records)))
	return nil
}

// persistRecord writes the record and its satellites through to storage.
// Write-through is best-effort: a transient backend failure is logged, the
// in-memory state stays authoritative.
func (s *Store) persistRecord(ctx context.Context, rec *storedAgent) {
	put := func(bucket string, v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("persist: marshal failed", zap.String("bucket", bucket), zap.Error(err))
			return
		}
		if err := s.adapter.HSet(ctx, bucket, rec.AgentID, raw); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			s.logger.Warn("persist: write failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}
	s.mu.RLock()
	m, hasMetrics := s.metrics[rec.AgentID]
	vec, hasVec := s.embeddings[rec.AgentID]
	h, hasHash := s.infoHashes[rec.AgentID]
	if hasMetrics {
		cp := *m
		m = &cp
	}
	s.mu.RUnlock()

	put(agentsBucket, rec)
	if hasMetrics {
		put(metricsBucket, m)
	}
	if hasVec {
		put(embeddingsBucket, vec)
	}
	if hasHash {
		if err := s.adapter.HSet(ctx, infoHashBucket, rec.AgentID, []byte(h)); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			s.logger.Warn("persist: info hash write failed", zap.Error(err))
		}
	}
	if rec.KeyHash != "" {
		if err := s.adapter.HSet(ctx, keysBucket, rec.KeyHash, []byte(rec.AgentID)); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			s.logger.Warn("persist: key binding write failed", zap.Error(err))
		}
	}
}

// removeRecord deletes the agent from every map and bucket. Caller holds the
// agent's shard lock.
func (s *Store) removeRecord(ctx context.Context, agentID string) {
	s.mu.Lock()
	rec := s.records[agentID]
	delete(s.records, agentID)
	delete(s.embeddings, agentID)
	delete(s.metrics, agentID)
	delete(s.infoHashes, agentID)
	var keyHash string
	if rec != nil && rec.KeyHash != "" {
		keyHash = rec.KeyHash
		delete(s.keyOwners, keyHash)
	}
	s.mu.Unlock()

	for _, bucket := range []string{agentsBucket, embeddingsBucket, metricsBucket, infoHashBucket} {
		if err := s.adapter.HDel(ctx, bucket, agentID); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			s.logger.Warn("remove: delete failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}
	if keyHash != "" {
		if err := s.adapter.HDel(ctx, keysBucket, keyHash); err != nil && !errors.Is(err, storage.ErrBackendTransient) {
			s.logger.Warn("remove: key binding delete failed", zap.Error(err))
		}
	}
}

// infoHash is the canonical digest of an agent's descriptive fields. The
// field list and order are frozen: changing either silently invalidates every
// stored hash and forces a re-embed of the whole registry.
func infoHash(r *model.AgentRegistration) string {
	var b strings.Builder
	write := func(parts ...string) {
		for _, p := range parts {
			b.WriteString(p)
			b.WriteByte(0x1f)
		}
	}
	write(r.AgentID, r.Name, r.AgentType, r.Endpoint, r.ContextBrief, r.Owner, r.Version, string(r.CommunicationMode))

	caps := append([]string(nil), r.Capabilities...)
	sort.Strings(caps)
	write(caps...)

	feats := append([]string(nil), r.Features...)
	sort.Strings(feats)
	write(feats...)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
