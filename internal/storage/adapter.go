package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// singleKey is the hash field used by the single-key Get/Set/Delete forms.
const singleKey = "_"

// Adapter fronts an optional remote Backend with an always-present in-memory
// fallback. Writes go to the remote backend when it is available and to the
// fallback otherwise; reads prefer the remote backend and fall through.
//
// Availability is probed lazily and cached for probeTTL so a dead backend
// does not add a dial timeout to every operation. When the backend comes
// back, no reconciliation happens here — callers own those semantics.
type Adapter struct {
	remote   Backend // nil = memory-only deployment
	fallback *MemoryBackend
	logger   *zap.Logger

	probeTTL time.Duration

	mu         sync.Mutex
	available  bool
	lastProbe  time.Time
	probedOnce bool
}

// NewAdapter creates an Adapter over an optional remote backend. probeTTL
// throttles availability probes; values below one second are raised to it.
func NewAdapter(remote Backend, probeTTL time.Duration, logger *zap.Logger) *Adapter {
	if probeTTL < time.Second {
		probeTTL = time.Second
	}
	return &Adapter{
		remote:   remote,
		fallback: NewMemoryBackend(),
		probeTTL: probeTTL,
		logger:   logger,
	}
}

// BackendConfigured reports whether a remote backend was supplied at all.
// False means a deliberate memory-only deployment, not an outage.
func (a *Adapter) BackendConfigured() bool {
	return a.remote != nil
}

// BackendAvailable reports (probing if the cached result expired) whether the
// remote backend is currently reachable.
func (a *Adapter) BackendAvailable(ctx context.Context) bool {
	if a.remote == nil {
		return false
	}

	a.mu.Lock()
	if a.probedOnce && time.Since(a.lastProbe) < a.probeTTL {
		avail := a.available
		a.mu.Unlock()
		return avail
	}
	a.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := a.remote.Ping(probeCtx)
	cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	wasAvailable := a.available
	a.available = err == nil
	a.lastProbe = time.Now()
	a.probedOnce = true

	if a.available && !wasAvailable {
		a.logger.Info("storage backend available")
	} else if !a.available && wasAvailable {
		a.logger.Warn("storage backend unavailable, using in-memory fallback", zap.Error(err))
	}
	return a.available
}

// markUnavailable records a failed operation so subsequent calls skip the
// backend until the next probe window.
func (a *Adapter) markUnavailable() {
	a.mu.Lock()
	a.available = false
	a.lastProbe = time.Now()
	a.probedOnce = true
	a.mu.Unlock()
}

// HSet writes to the backend when available, otherwise to the fallback.
// A backend write failure that the fallback absorbed returns
// ErrBackendTransient.
func (a *Adapter) HSet(ctx context.Context, bucket, key string, value []byte) error {
	if a.BackendAvailable(ctx) {
		if err := a.remote.HSet(ctx, bucket, key, value); err == nil {
			return nil
		}
		a.markUnavailable()
		if ferr := a.fallback.HSet(ctx, bucket, key, value); ferr != nil {
			return ferr
		}
		return ErrBackendTransient
	}
	return a.fallback.HSet(ctx, bucket, key, value)
}

// HGet reads from the backend when available, falling through to the
// in-memory store on miss or backend error.
func (a *Adapter) HGet(ctx context.Context, bucket, key string) ([]byte, error) {
	if a.BackendAvailable(ctx) {
		v, err := a.remote.HGet(ctx, bucket, key)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrNotFound) {
			// Key may have been written while the backend was down.
			return a.fallback.HGet(ctx, bucket, key)
		}
		a.markUnavailable()
	}
	return a.fallback.HGet(ctx, bucket, key)
}

// HKeys merges keys from the backend (when available) and the fallback.
func (a *Adapter) HKeys(ctx context.Context, bucket string) ([]string, error) {
	seen := map[string]struct{}{}
	var keys []string

	if a.BackendAvailable(ctx) {
		if remote, err := a.remote.HKeys(ctx, bucket); err == nil {
			for _, k := range remote {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		} else {
			a.markUnavailable()
		}
	}

	local, err := a.fallback.HKeys(ctx, bucket)
	if err != nil {
		return keys, err
	}
	for _, k := range local {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// HDel deletes from both stores so a stale fallback copy cannot resurrect.
func (a *Adapter) HDel(ctx context.Context, bucket string, keys ...string) error {
	var remoteErr error
	if a.BackendAvailable(ctx) {
		if remoteErr = a.remote.HDel(ctx, bucket, keys...); remoteErr != nil {
			a.markUnavailable()
		}
	}
	if err := a.fallback.HDel(ctx, bucket, keys...); err != nil {
		return err
	}
	if remoteErr != nil {
		return ErrBackendTransient
	}
	return nil
}

// Exists checks the backend first, then the fallback.
func (a *Adapter) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if a.BackendAvailable(ctx) {
		ok, err := a.remote.Exists(ctx, bucket, key)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			a.markUnavailable()
		}
	}
	return a.fallback.Exists(ctx, bucket, key)
}

// Get is the single-key read form of HGet.
func (a *Adapter) Get(ctx context.Context, bucket string) ([]byte, error) {
	return a.HGet(ctx, bucket, singleKey)
}

// Set is the single-key write form of HSet.
func (a *Adapter) Set(ctx context.Context, bucket string, value []byte) error {
	return a.HSet(ctx, bucket, singleKey, value)
}

// Delete is the single-key delete form of HDel.
func (a *Adapter) Delete(ctx context.Context, bucket string) error {
	return a.HDel(ctx, bucket, singleKey)
}

// Close closes the remote backend, if any.
func (a *Adapter) Close() error {
	if a.remote == nil {
		return nil
	}
	return a.remote.Close()
}
