// Package handler wires the ARCP HTTP surface: authentication and session
// endpoints, the agent lifecycle API, the public discovery surface, the
// websocket stream, and health reporting.
package handler

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/problem"
	"github.com/arcp-io/arcp/internal/ratelimit"
	"github.com/arcp-io/arcp/internal/registry/service"
)

// pinPattern is the accepted PIN shape: 4 to 8 digits.
var pinPattern = regexp.MustCompile(`^\d{4,8}$`)

// AuthHandler serves /auth and /tokens.
type AuthHandler struct {
	cfg      *config.Config
	tokens   *auth.TokenService
	sessions *auth.SessionManager
	creds    *auth.Credentials
	limiter  *ratelimit.Limiter
	mw       *auth.Middleware
	registry *service.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAuthHandler wires the authentication endpoints. The registry is consulted
// during enrollment to reject keys already bound to a live agent.
func NewAuthHandler(cfg *config.Config, tokens *auth.TokenService, sessions *auth.SessionManager, creds *auth.Credentials, limiter *ratelimit.Limiter, mw *auth.Middleware, registry *service.Registry, m *metrics.Metrics, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		creds:    creds,
		limiter:  limiter,
		mw:       mw,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}
}

// Register mounts the routes.
func (h *AuthHandler) Register(r *gin.RouterGroup) {
	authGroup := r.Group("/auth")
	authGroup.POST("/login", h.login)
	authGroup.POST("/agent/request_temp_token", h.requestTempToken)
	authGroup.POST("/logout", h.mw.RequireLevel(auth.LevelAdmin), h.logout)
	authGroup.POST("/set_pin", h.mw.RequireLevel(auth.LevelAdmin), h.mw.RequireAdminSession(), h.setPin)
	authGroup.POST("/verify_pin", h.mw.RequireLevel(auth.LevelAdmin), h.mw.RequireAdminSession(), h.verifyPin)

	tokenGroup := r.Group("/tokens")
	tokenGroup.POST("/mint", h.mw.RequireLevel(auth.LevelAdmin), h.mw.RequireAdminSession(), h.mintToken)
	tokenGroup.POST("/validate", h.validateToken)
	tokenGroup.POST("/refresh", h.refreshToken)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	AgentID  string `json:"agent_id,omitempty"`
}

// login authenticates the configured admin and opens a session bound to the
// client fingerprint. Agents never log in here: their path is the two-phase
// enrollment under /auth/agent.
func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "username and password are required")
		return
	}
	if req.AgentID != "" {
		problem.Abort(c, problem.KindInsufficientPermissions, "agents must enroll via /auth/agent/request_temp_token")
		return
	}

	identifier := auth.ClientIdentifier(c)
	if !ratelimit.Guard(c, h.limiter.Check(c.Request.Context(), ratelimit.ClassLogin, identifier)) {
		h.metrics.RateLimitBlocks.WithLabelValues(string(ratelimit.ClassLogin)).Inc()
		return
	}

	if !h.creds.Verify(req.Username, req.Password) {
		h.limiter.Failure(c.Request.Context(), ratelimit.ClassLogin, identifier)
		h.logger.Warn("failed admin login", zap.String("identifier", identifier))
		problem.Abort(c, problem.KindAuthenticationFailed, "invalid credentials")
		return
	}
	h.limiter.Success(c.Request.Context(), ratelimit.ClassLogin, identifier)

	token, err := h.tokens.Mint(req.Username, auth.RoleAdmin, auth.Claims{})
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "token minting failed")
		return
	}
	if _, err := h.sessions.Create(c.Request.Context(), req.Username, auth.Fingerprint(c), auth.TokenRef(token)); err != nil {
		problem.Abort(c, problem.KindInternalError, "session creation failed")
		return
	}

	h.logger.Info("admin login", zap.String("username", req.Username))
	c.JSON(200, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Expiry().Seconds()),
		"role":         auth.RoleAdmin,
	})
}

// logout destroys the session for this token and fingerprint. Idempotent.
func (h *AuthHandler) logout(c *gin.Context) {
	claims := auth.ClaimsFromCtx(c)
	rawToken := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.sessions.Destroy(c.Request.Context(), claims.Subject, auth.Fingerprint(c), auth.TokenRef(rawToken)); err != nil {
		h.logger.Warn("logout: session destroy failed", zap.Error(err))
	}
	c.JSON(200, gin.H{"status": "logged out"})
}

type setPinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

// setPin attaches a PIN to the current admin session.
func (h *AuthHandler) setPin(c *gin.Context) {
	var req setPinRequest
	if err := c.ShouldBindJSON(&req); err != nil || !pinPattern.MatchString(req.Pin) {
		problem.Abort(c, problem.KindValidationError, "pin must be 4 to 8 digits")
		return
	}
	session := auth.SessionFromCtx(c)
	if err := h.sessions.SetPin(c.Request.Context(), session, req.Pin); err != nil {
		problem.Abort(c, problem.KindInternalError, "pin could not be stored")
		return
	}
	c.JSON(200, gin.H{"status": "pin set"})
}

// verifyPin checks a PIN against the session without performing any elevated
// operation. Failed checks count toward the pin rate-limit bucket.
func (h *AuthHandler) verifyPin(c *gin.Context) {
	var req setPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "pin is required")
		return
	}

	identifier := auth.ClientIdentifier(c)
	if !ratelimit.Guard(c, h.limiter.Check(c.Request.Context(), ratelimit.ClassPin, identifier)) {
		h.metrics.RateLimitBlocks.WithLabelValues(string(ratelimit.ClassPin)).Inc()
		return
	}

	session := auth.SessionFromCtx(c)
	ok, err := h.sessions.VerifyPin(session, req.Pin)
	if err != nil || !ok {
		h.limiter.Failure(c.Request.Context(), ratelimit.ClassPin, identifier)
		problem.Abort(c, problem.KindAuthenticationFailed, "pin verification failed")
		return
	}
	h.limiter.Success(c.Request.Context(), ratelimit.ClassPin, identifier)
	c.JSON(200, gin.H{"valid": true})
}

type tempTokenRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	AgentType string `json:"agent_type" binding:"required"`
	AgentKey  string `json:"agent_key" binding:"required"`
}

// requestTempToken is phase one of agent enrollment: a valid pre-shared key
// buys a short-lived token good only for completing one registration. A key
// already bound to a live agent cannot start an enrollment for a different
// agent; the conflict surfaces here rather than at registration time.
func (h *AuthHandler) requestTempToken(c *gin.Context) {
	var req tempTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "agent_id, agent_type, and agent_key are required")
		return
	}

	identifier := auth.ClientIdentifier(c)
	if !ratelimit.Guard(c, h.limiter.Check(c.Request.Context(), ratelimit.ClassLogin, identifier)) {
		h.metrics.RateLimitBlocks.WithLabelValues(string(ratelimit.ClassLogin)).Inc()
		return
	}

	if !h.cfg.AgentKeyAllowed(req.AgentKey) {
		h.limiter.Failure(c.Request.Context(), ratelimit.ClassLogin, identifier)
		h.logger.Warn("enrollment with unknown agent key", zap.String("agent_id", req.AgentID))
		problem.Abort(c, problem.KindAuthenticationFailed, "invalid agent key")
		return
	}
	if !h.cfg.AgentTypeAllowed(req.AgentType) {
		problem.Abort(c, problem.KindValidationError, "agent type not allowed")
		return
	}
	h.limiter.Success(c.Request.Context(), ratelimit.ClassLogin, identifier)

	keyHash := auth.HashKey(req.AgentKey)
	if !h.registry.KeyAvailableFor(keyHash, req.AgentID) {
		problem.Abort(c, problem.KindAgentKeyInUse, "agent key is already bound to another live agent")
		return
	}

	token, err := h.tokens.MintTemp(req.AgentID, req.AgentType, keyHash)
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "token minting failed")
		return
	}
	c.JSON(200, gin.H{
		"temp_token": token,
		"token_type": "bearer",
		"expires_in": int(auth.TempTokenTTL.Seconds()),
	})
}

type mintRequest struct {
	Subject   string   `json:"subject" binding:"required"`
	Role      string   `json:"role" binding:"required"`
	AgentID   string   `json:"agent_id,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// mintToken lets an admin mint an arbitrary token, e.g. for service accounts.
func (h *AuthHandler) mintToken(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "subject and role are required")
		return
	}
	role := auth.Role(req.Role)
	switch role {
	case auth.RolePublic, auth.RoleAgent, auth.RoleAdmin:
	default:
		problem.Abort(c, problem.KindValidationError, "role must be public, agent, or admin")
		return
	}

	token, err := h.tokens.Mint(req.Subject, role, auth.Claims{
		AgentID:   req.AgentID,
		AgentType: req.AgentType,
		Scopes:    req.Scopes,
	})
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "token minting failed")
		return
	}
	c.JSON(200, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Expiry().Seconds()),
	})
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// validateToken reports whether a token is currently valid, plus its claims.
// The check itself always succeeds: an invalid token is a 200 with
// valid=false, not an authentication failure. The token comes from the JSON
// body or, for convenience, a ?token= query parameter.
func (h *AuthHandler) validateToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			problem.Abort(c, problem.KindValidationError, "token is required")
			return
		}
		token = req.Token
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		c.JSON(200, gin.H{
			"valid": false,
			"error": "token is invalid or expired",
		})
		return
	}
	c.JSON(200, gin.H{
		"valid":             true,
		"subject":           claims.Subject,
		"role":              claims.Role,
		"agent_id":          claims.AgentID,
		"temp_registration": claims.TempRegistration,
		"expires_at":        claims.ExpiresAt,
	})
}

// refreshToken exchanges a valid non-temporary token for a fresh one.
func (h *AuthHandler) refreshToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "token is required")
		return
	}
	token, err := h.tokens.Refresh(req.Token)
	if err != nil {
		problem.Abort(c, problem.KindTokenValidationError, "token cannot be refreshed")
		return
	}
	c.JSON(200, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Expiry().Seconds()),
	})
}
