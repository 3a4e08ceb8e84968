// Package auth implements the ARCP authentication and authorization core:
// the JWT token service, admin sessions with PIN elevation, client
// fingerprinting, and the hierarchical permission model.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the fixed "iss" claim on every ARCP token.
const Issuer = "arcp"

// TempTokenTTL caps the lifetime of temporary registration tokens.
const TempTokenTTL = 15 * time.Minute

// ErrTokenInvalid covers every signature, expiry, and claim failure. Callers
// deliberately get no finer-grained reason.
var ErrTokenInvalid = errors.New("token validation failed")

// Claims is the ARCP token payload.
type Claims struct {
	jwt.RegisteredClaims

	AgentID   string   `json:"agent_id,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
	Role      Role     `json:"role"`
	Scopes    []string `json:"scopes,omitempty"`

	// TempRegistration marks a short-lived enrollment token bound to one
	// specific registration (AgentID + AgentType + UsedKey).
	TempRegistration bool `json:"temp_registration,omitempty"`

	// UsedKey is the sha256 of the pre-shared registration key presented
	// during phase one of enrollment.
	UsedKey string `json:"used_key,omitempty"`
}

// TokenService mints and validates HMAC-signed ARCP tokens.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	expiry time.Duration
}

// NewTokenService creates a TokenService. algorithm is one of HS256/HS384/
// HS512; expireMinutes is the standard token lifetime.
func NewTokenService(secret, algorithm string, expireMinutes int) (*TokenService, error) {
	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if expireMinutes < 1 {
		expireMinutes = 60
	}
	return &TokenService{
		secret: []byte(secret),
		method: method,
		expiry: time.Duration(expireMinutes) * time.Minute,
	}, nil
}

// Mint signs claims with the standard expiry. Subject, role, and any agent
// binding come from the caller; iat/exp/iss/jti are filled here.
func (t *TokenService) Mint(subject string, role Role, extra Claims) (string, error) {
	return t.mint(subject, role, extra, t.expiry)
}

// MintTemp signs a temporary registration token bound to one enrollment.
// Its lifetime never exceeds TempTokenTTL.
func (t *TokenService) MintTemp(agentID, agentType, usedKeyHash string) (string, error) {
	extra := Claims{
		AgentID:          agentID,
		AgentType:        agentType,
		TempRegistration: true,
		UsedKey:          usedKeyHash,
		Scopes:           []string{"register"},
	}
	return t.mint(agentID, RoleAgent, extra, TempTokenTTL)
}

func (t *TokenService) mint(subject string, role Role, extra Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := extra
	claims.Role = role
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.New().String(),
	}

	token := jwt.NewWithClaims(t.method, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenStr and returns its claims iff the signature is
// valid, the token is unexpired, and the issuer is "arcp".
func (t *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh mints a fresh token carrying the same identity claims as a valid
// existing token. Temporary registration tokens cannot be refreshed.
func (t *TokenService) Refresh(tokenStr string) (string, error) {
	claims, err := t.Validate(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.TempRegistration {
		return "", ErrTokenInvalid
	}
	extra := Claims{
		AgentID:   claims.AgentID,
		AgentType: claims.AgentType,
		Scopes:    claims.Scopes,
	}
	return t.mint(claims.Subject, claims.Role, extra, t.expiry)
}

// Expiry returns the standard token lifetime.
func (t *TokenService) Expiry() time.Duration { return t.expiry }

// TokenRef derives the short session-binding reference from a raw token.
// It identifies the token without being usable as one.
func TokenRef(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:8])
}

// HashKey hashes a pre-shared agent key for storage and binding lookups.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
