package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// sessionBucket is the storage bucket holding admin sessions.
const sessionBucket = "sessions"

// ErrNoSession is returned when no live session matches the request binding.
var ErrNoSession = errors.New("no active session")

// ErrPinNotSet is returned when a PIN operation runs against a session that
// never set one.
var ErrPinNotSet = errors.New("session has no pin")

// Session binds an admin identity to one client fingerprint and one token.
// PIN proof lives here, never in the token: a stolen token alone cannot
// reach PIN-elevated operations.
type Session struct {
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	TokenRef    string    `json:"token_ref"`
	PinHash     string    `json:"pin_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// sessionStore is the persistence surface; *storage.Adapter satisfies it.
type sessionStore interface {
	HSet(ctx context.Context, bucket, key string, value []byte) error
	HGet(ctx context.Context, bucket, key string) ([]byte, error)
	HKeys(ctx context.Context, bucket string) ([]string, error)
	HDel(ctx context.Context, bucket string, keys ...string) error
}

// SessionManager creates, resolves, and expires admin sessions.
type SessionManager struct {
	store sessionStore
	ttl   time.Duration
}

// NewSessionManager creates a SessionManager with the configured session TTL.
func NewSessionManager(store sessionStore, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionManager{store: store, ttl: ttl}
}

// SessionKey derives the storage key for a (user, fingerprint, token_ref)
// binding. Identical inputs always produce the identical key.
func SessionKey(userID, fingerprint, tokenRef string) string {
	sum := sha256.Sum256([]byte(userID + "\x1f" + fingerprint + "\x1f" + tokenRef))
	return hex.EncodeToString(sum[:])
}

// Create stores a fresh session for the given binding.
func (m *SessionManager) Create(ctx context.Context, userID, fingerprint, tokenRef string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		UserID:      userID,
		Fingerprint: fingerprint,
		TokenRef:    tokenRef,
		CreatedAt:   now,
		LastActive:  now,
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve returns the live session for the binding, refreshing its activity
// timestamp. Expired sessions are deleted and reported as absent.
func (m *SessionManager) Resolve(ctx context.Context, userID, fingerprint, tokenRef string) (*Session, error) {
	key := SessionKey(userID, fingerprint, tokenRef)
	raw, err := m.store.HGet(ctx, sessionBucket, key)
	if err != nil {
		return nil, ErrNoSession
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrNoSession
	}
	if time.Since(s.LastActive) > m.ttl {
		_ = m.store.HDel(ctx, sessionBucket, key)
		return nil, ErrNoSession
	}
	s.LastActive = time.Now().UTC()
	if err := m.save(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetPin hashes and stores the session PIN.
func (m *SessionManager) SetPin(ctx context.Context, s *Session, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	s.PinHash = string(hash)
	return m.save(ctx, s)
}

// VerifyPin checks the supplied PIN against the session-bound hash.
func (m *SessionManager) VerifyPin(s *Session, pin string) (bool, error) {
	if s.PinHash == "" {
		return false, ErrPinNotSet
	}
	err := bcrypt.CompareHashAndPassword([]byte(s.PinHash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Destroy removes the session for the binding, if present.
func (m *SessionManager) Destroy(ctx context.Context, userID, fingerprint, tokenRef string) error {
	return m.store.HDel(ctx, sessionBucket, SessionKey(userID, fingerprint, tokenRef))
}

// Cleanup prunes expired sessions. Returns the number removed.
func (m *SessionManager) Cleanup(ctx context.Context) int {
	keys, err := m.store.HKeys(ctx, sessionBucket)
	if err != nil {
		return 0
	}
	removed := 0
	for _, key := range keys {
		raw, err := m.store.HGet(ctx, sessionBucket, key)
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			_ = m.store.HDel(ctx, sessionBucket, key)
			removed++
			continue
		}
		if time.Since(s.LastActive) > m.ttl {
			_ = m.store.HDel(ctx, sessionBucket, key)
			removed++
		}
	}
	return removed
}

func (m *SessionManager) save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return m.store.HSet(ctx, sessionBucket, SessionKey(s.UserID, s.Fingerprint, s.TokenRef), raw)
}

// Credentials validates admin login input against the configured values.
// Comparison is constant-time and reports only pass/fail; callers must not
// leak which component was wrong.
type Credentials struct {
	username []byte
	password []byte
}

// NewCredentials captures the configured admin username and password.
func NewCredentials(username, password string) *Credentials {
	return &Credentials{username: []byte(username), password: []byte(password)}
}

// Verify reports whether both the username and password match.
func (c *Credentials) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare(c.username, []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare(c.password, []byte(password)) == 1
	return userOK && passOK
}
