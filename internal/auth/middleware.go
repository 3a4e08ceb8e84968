package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arcp-io/arcp/internal/problem"
	"github.com/arcp-io/arcp/internal/ratelimit"
)

// Gin context keys.
const (
	ctxClaims  = "arcp_claims"
	ctxSession = "arcp_session"
)

// PinHeader carries the PIN proof for admin_pin operations.
const PinHeader = "X-ARCP-PIN"

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimPrefix(h, "Bearer ")
	return tok, tok != ""
}

// ClaimsFromCtx returns the validated claims set by RequireLevel, or nil.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// SessionFromCtx returns the admin session set by RequireAdminSession, or nil.
func SessionFromCtx(c *gin.Context) *Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	s, _ := v.(*Session)
	return s
}

// Middleware bundles the auth collaborators the route guards need.
type Middleware struct {
	tokens   *TokenService
	sessions *SessionManager
	limiter  *ratelimit.Limiter // nil = PIN attempts not rate limited
}

// NewMiddleware creates the auth middleware set. limiter may be nil.
func NewMiddleware(tokens *TokenService, sessions *SessionManager, limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{tokens: tokens, sessions: sessions, limiter: limiter}
}

// RequireLevel validates the bearer token and enforces the permission
// hierarchy. Temp-registration tokens are additionally restricted to the
// registration endpoints regardless of level.
func (m *Middleware) RequireLevel(required Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c)
		if !ok {
			problem.Abort(c, problem.KindAuthenticationFailed, "missing or malformed authorization header")
			return
		}
		claims, err := m.tokens.Validate(tok)
		if err != nil {
			problem.Abort(c, problem.KindAuthenticationFailed, "invalid or expired token")
			return
		}
		if claims.TempRegistration && !TempRegistrationAllowed(c.FullPath()) {
			problem.Abort(c, problem.KindInsufficientPermissions, "temporary registration token not valid here")
			return
		}
		if !HasLevel(claims.Role, required) {
			problem.Abort(c, problem.KindInsufficientPermissions, "role lacks required permission level")
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireAdminSession enforces that an admin-level token is additionally
// bound to a live session for this client fingerprint. A valid token without
// a session is an authentication failure, not a permission one: the token
// alone is not proof.
func (m *Middleware) RequireAdminSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil || claims.Role != RoleAdmin {
			problem.Abort(c, problem.KindAuthenticationFailed, "admin session required")
			return
		}
		tok, _ := bearerToken(c)
		session, err := m.sessions.Resolve(c.Request.Context(), claims.Subject, Fingerprint(c), TokenRef(tok))
		if err != nil {
			problem.Abort(c, problem.KindAuthenticationFailed, "admin session required")
			return
		}
		c.Set(ctxSession, session)
		c.Next()
	}
}

// RequirePin enforces the second proof for admin_pin operations. The PIN
// annotates the current request only; it never changes the token.
func (m *Middleware) RequirePin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := SessionFromCtx(c)
		if session == nil {
			problem.Abort(c, problem.KindAuthenticationFailed, "admin session required")
			return
		}

		pin := c.GetHeader(PinHeader)
		if pin == "" {
			problem.Abort(c, problem.KindPinRequired, "pin header required for this operation")
			return
		}

		identifier := ClientIdentifier(c)
		if m.limiter != nil {
			if !ratelimit.Guard(c, m.limiter.Check(c.Request.Context(), ratelimit.ClassPin, identifier)) {
				return
			}
		}

		ok, err := m.sessions.VerifyPin(session, pin)
		if err != nil || !ok {
			if m.limiter != nil {
				m.limiter.Failure(c.Request.Context(), ratelimit.ClassPin, identifier)
			}
			problem.Abort(c, problem.KindAuthenticationFailed, "pin verification failed")
			return
		}
		if m.limiter != nil {
			m.limiter.Success(c.Request.Context(), ratelimit.ClassPin, identifier)
		}
		c.Next()
	}
}

// OptionalClaims parses a bearer token when present and injects its claims.
// Never aborts; used by endpoints that behave differently per role.
func (m *Middleware) OptionalClaims() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok, ok := bearerToken(c); ok {
			if claims, err := m.tokens.Validate(tok); err == nil {
				c.Set(ctxClaims, claims)
			}
		}
		c.Next()
	}
}
