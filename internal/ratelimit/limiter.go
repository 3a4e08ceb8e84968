// Package ratelimit implements brute-force protection for authentication
// endpoints: per-identifier attempt counters across login/pin/global classes,
// progressive inter-attempt delays, and exponentially growing lockouts.
// Attempt records persist through the storage adapter so limits survive a
// process restart when a durable backend is configured.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Class names the attempt buckets. Unknown classes collapse into ClassGlobal.
type Class string

const (
	ClassLogin  Class = "login"
	ClassPin    Class = "pin"
	ClassGlobal Class = "global"
)

// bucketFor maps an arbitrary class name onto a storage bucket.
func bucketFor(class Class) string {
	switch class {
	case ClassLogin, ClassPin:
		return "rate_limit:" + string(class)
	default:
		return "rate_limit:" + string(ClassGlobal)
	}
}

// Attempt is the per-(identifier, class) record.
type Attempt struct {
	Count        int     `json:"count"`
	FirstAttempt float64 `json:"first_attempt"`
	LastAttempt  float64 `json:"last_attempt"`
	LockedUntil  float64 `json:"locked_until,omitempty"`
	LockoutCount int     `json:"lockout_count"`
}

// Store is the persistence surface the limiter needs; *storage.Adapter
// satisfies it.
type Store interface {
	HSet(ctx context.Context, bucket, key string, value []byte) error
	HGet(ctx context.Context, bucket, key string) ([]byte, error)
	HKeys(ctx context.Context, bucket string) ([]string, error)
	HDel(ctx context.Context, bucket string, keys ...string) error
}

// Options configure a Limiter.
type Options struct {
	MaxAttempts        int           // failures before lockout (default 5)
	LockoutDuration    time.Duration // base lockout (default 60s)
	WindowDuration     time.Duration // inactivity window before records expire (default 5m)
	MaxLockoutDuration time.Duration // hard cap on the exponential lockout (default 1h)
	ProgressiveDelay   bool          // enforce inter-attempt delays; off means lockouts only
}

// Constants of the progressive-delay formula.
const (
	repeatPenaltyStep = 30 * time.Second      // added per previous lockout
	maxRepeatPenalty  = 5 * repeatPenaltyStep // penalty cap
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	// RetryAfter is the wait remaining when the attempt is not allowed.
	RetryAfter time.Duration
	// Locked reports whether the identifier is inside a lockout window
	// (as opposed to a progressive delay).
	Locked bool
}

// Limiter tracks failed attempts per identifier and class.
type Limiter struct {
	store  Store
	opts   Options
	logger *zap.Logger

	// now is swapped in tests.
	now func() time.Time

	// mu serializes read-modify-write cycles on attempt records.
	mu sync.Mutex
}

// NewLimiter creates a Limiter with defaults filled in.
func NewLimiter(store Store, opts Options, logger *zap.Logger) *Limiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = time.Minute
	}
	if opts.WindowDuration <= 0 {
		opts.WindowDuration = 5 * time.Minute
	}
	if opts.MaxLockoutDuration <= 0 {
		opts.MaxLockoutDuration = time.Hour
	}
	return &Limiter{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Delay returns the progressive delay required after count failures with
// lockoutCount previous lockouts. The base component doubles per failure and
// is capped at the base lockout duration; the repeat penalty adds 30 seconds
// per previous lockout, capped at 150 seconds. With progressive delay off
// there is no inter-attempt wait at all and only lockouts constrain callers.
func (l *Limiter) Delay(count, lockoutCount int) time.Duration {
	if !l.opts.ProgressiveDelay {
		return 0
	}
	if count < 1 {
		count = 1
	}

	base := time.Second
	for i := 1; i < count && base < l.opts.LockoutDuration; i++ {
		base *= 2
	}
	if base > l.opts.LockoutDuration {
		base = l.opts.LockoutDuration
	}

	penalty := time.Duration(lockoutCount) * repeatPenaltyStep
	if penalty > maxRepeatPenalty {
		penalty = maxRepeatPenalty
	}
	return base + penalty
}

// LockoutDuration returns the lockout applied at the n-th lockout
// (1-based): base × 2^(n−1), capped at MaxLockoutDuration.
func (l *Limiter) LockoutDuration(lockoutCount int) time.Duration {
	if lockoutCount < 1 {
		lockoutCount = 1
	}
	d := l.opts.LockoutDuration
	for i := 1; i < lockoutCount; i++ {
		d *= 2
		if d >= l.opts.MaxLockoutDuration {
			return l.opts.MaxLockoutDuration
		}
	}
	if d > l.opts.MaxLockoutDuration {
		d = l.opts.MaxLockoutDuration
	}
	return d
}

func (l *Limiter) load(ctx context.Context, class Class, id string) (*Attempt, error) {
	raw, err := l.store.HGet(ctx, bucketFor(class), id)
	if err != nil {
		return nil, nil // treat missing or unreadable as no record
	}
	var a Attempt
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, nil
	}
	return &a, nil
}

func (l *Limiter) save(ctx context.Context, class Class, id string, a *Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	return l.store.HSet(ctx, bucketFor(class), id, raw)
}

func (l *Limiter) delete(ctx context.Context, class Class, id string) {
	if err := l.store.HDel(ctx, bucketFor(class), id); err != nil {
		l.logger.Warn("rate limiter: delete attempt record", zap.Error(err))
	}
}

// Check evaluates whether identifier may attempt now, without recording
// anything. identifier may be a pipe-separated composite (e.g. "ip|fp");
// the attempt is blocked when ANY component is blocked and the worst delay
// is surfaced.
func (l *Limiter) Check(ctx context.Context, class Class, identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(ctx, class, identifier)
}

func (l *Limiter) checkLocked(ctx context.Context, class Class, identifier string) Decision {
	worst := Decision{Allowed: true}
	for _, id := range splitIdentifiers(identifier) {
		d := l.checkOne(ctx, class, id)
		if !d.Allowed && d.RetryAfter >= worst.RetryAfter {
			worst = d
		}
	}
	return worst
}

func (l *Limiter) checkOne(ctx context.Context, class Class, id string) Decision {
	a, _ := l.load(ctx, class, id)
	if a == nil {
		return Decision{Allowed: true}
	}
	now := l.now()

	if a.LockedUntil > 0 {
		until := timeFromUnix(a.LockedUntil)
		if now.Before(until) {
			return Decision{Allowed: false, RetryAfter: until.Sub(now), Locked: true}
		}
	}

	// Expired window: the record no longer constrains anything.
	if now.Sub(timeFromUnix(a.LastAttempt)) > l.opts.WindowDuration {
		return Decision{Allowed: true}
	}

	if a.Count > 0 {
		required := l.Delay(a.Count, a.LockoutCount)
		elapsed := now.Sub(timeFromUnix(a.LastAttempt))
		if elapsed < required {
			return Decision{Allowed: false, RetryAfter: required - elapsed}
		}
	}
	return Decision{Allowed: true}
}

// Failure records a failed attempt for every component of identifier. When
// the count reaches MaxAttempts the record enters lockout: locked_until is
// set, lockout_count increments, and count resets.
func (l *Limiter) Failure(ctx context.Context, class Class, identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, id := range splitIdentifiers(identifier) {
		a, _ := l.load(ctx, class, id)
		if a == nil || now.Sub(timeFromUnix(a.LastAttempt)) > l.opts.WindowDuration {
			a = &Attempt{FirstAttempt: unixFloat(now)}
		}
		a.Count++
		a.LastAttempt = unixFloat(now)

		if a.Count >= l.opts.MaxAttempts {
			a.LockoutCount++
			lockout := l.LockoutDuration(a.LockoutCount)
			a.LockedUntil = unixFloat(now.Add(lockout))
			a.Count = 0
			l.logger.Warn("rate limiter: identifier locked out",
				zap.String("class", string(class)),
				zap.Int("lockout_count", a.LockoutCount),
				zap.Duration("lockout", lockout),
			)
		}

		if err := l.save(ctx, class, id, a); err != nil {
			l.logger.Warn("rate limiter: save attempt record", zap.Error(err))
		}
	}
}

// Success clears the attempt state for every component of identifier.
func (l *Limiter) Success(ctx context.Context, class Class, identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range splitIdentifiers(identifier) {
		l.delete(ctx, class, id)
	}
}

// Cleanup removes records whose last activity predates the window and that
// are not currently locked out. Returns the number of records removed.
func (l *Limiter) Cleanup(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	now := l.now()
	for _, class := range []Class{ClassLogin, ClassPin, ClassGlobal} {
		bucket := bucketFor(class)
		keys, err := l.store.HKeys(ctx, bucket)
		if err != nil {
			continue
		}
		for _, id := range keys {
			a, _ := l.load(ctx, class, id)
			if a == nil {
				continue
			}
			if a.LockedUntil > 0 && now.Before(timeFromUnix(a.LockedUntil)) {
				continue // never drop an active lockout
			}
			if now.Sub(timeFromUnix(a.LastAttempt)) > l.opts.WindowDuration {
				l.delete(ctx, class, id)
				removed++
			}
		}
	}
	return removed
}

// Run starts the periodic cleanup loop; it exits when ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.Cleanup(ctx); n > 0 {
				l.logger.Debug("rate limiter: pruned attempt records", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetNow overrides the limiter clock. Tests only.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

func splitIdentifiers(identifier string) []string {
	parts := strings.Split(identifier, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, "unknown")
	}
	return out
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second)))
}
