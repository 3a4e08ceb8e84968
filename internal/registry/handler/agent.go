package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/problem"
	"github.com/arcp-io/arcp/internal/registry/model"
	"github.com/arcp-io/arcp/internal/registry/service"
)

// AgentHandler serves the authenticated /agents lifecycle API.
type AgentHandler struct {
	registry *service.Registry
	tokens   *auth.TokenService
	mw       *auth.Middleware
	logger   *zap.Logger
}

// NewAgentHandler wires the lifecycle endpoints.
func NewAgentHandler(registry *service.Registry, tokens *auth.TokenService, mw *auth.Middleware, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: registry, tokens: tokens, mw: mw, logger: logger}
}

// Register mounts the routes.
func (h *AgentHandler) Register(r *gin.RouterGroup) {
	agents := r.Group("/agents")
	agents.POST("/register", h.mw.RequireLevel(auth.LevelAgent), h.register)
	agents.GET("", h.mw.RequireLevel(auth.LevelAdmin), h.list)
	agents.POST("/search", h.mw.RequireLevel(auth.LevelAgent), h.search)
	agents.GET("/:agent_id", h.mw.RequireLevel(auth.LevelAdmin), h.get)
	agents.DELETE("/:agent_id", h.mw.RequireLevel(auth.LevelAgent), h.unregister)
	agents.POST("/:agent_id/heartbeat", h.mw.RequireLevel(auth.LevelAgent), h.heartbeat)
	agents.GET("/:agent_id/metrics", h.mw.RequireLevel(auth.LevelAgent), h.getMetrics)
	agents.POST("/:agent_id/metrics", h.mw.RequireLevel(auth.LevelAgent), h.updateMetrics)
}

// register is phase two of enrollment. A temp token may only register the
// exact identity it was minted for; its key hash becomes the agent's binding
// and the response carries the permanent agent token. Admins may register any
// agent directly; without a key in the token the record gets no binding.
func (h *AgentHandler) register(c *gin.Context) {
	var reg model.AgentRegistration
	if err := c.ShouldBindJSON(&reg); err != nil {
		problem.Abort(c, problem.KindValidationError, "invalid registration payload: "+err.Error())
		return
	}

	claims := auth.ClaimsFromCtx(c)
	if claims.TempRegistration {
		if claims.AgentID != reg.AgentID || claims.AgentType != reg.AgentType {
			problem.Abort(c, problem.KindInsufficientPermissions, "registration token was issued for a different agent identity")
			return
		}
	} else if claims.Role != auth.RoleAdmin {
		if claims.AgentID != reg.AgentID || claims.UsedKey == "" {
			problem.Abort(c, problem.KindInsufficientPermissions, "token is not authorized to register this agent")
			return
		}
	}

	info, outcome, err := h.registry.Register(c.Request.Context(), &reg, claims.UsedKey)
	if err != nil {
		h.abortRegistryError(c, err)
		return
	}

	token, err := h.tokens.Mint(reg.AgentID, auth.RoleAgent, auth.Claims{
		AgentID:   reg.AgentID,
		AgentType: reg.AgentType,
		UsedKey:   claims.UsedKey,
	})
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "token minting failed")
		return
	}

	h.logger.Info("agent registered",
		zap.String("agent_id", reg.AgentID),
		zap.String("outcome", string(outcome)),
	)
	status := 201
	if outcome != service.OutcomeCreated {
		status = 200
	}
	c.JSON(status, gin.H{
		"agent":        info,
		"outcome":      outcome,
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Expiry().Seconds()),
	})
}

// canManage reports whether the caller may act on agentID: admins always,
// agents only on themselves and only with their own key binding.
func (h *AgentHandler) canManage(claims *auth.Claims, agentID string) bool {
	if claims.Role == auth.RoleAdmin {
		return true
	}
	return claims.AgentID == agentID && h.registry.Owns(agentID, claims.UsedKey)
}

func (h *AgentHandler) list(c *gin.Context) {
	filter := &model.ListFilter{
		AgentType: c.Query("agent_type"),
		Status:    model.AgentStatus(c.Query("status")),
	}
	if caps := c.Query("capabilities"); caps != "" {
		for _, capability := range strings.Split(caps, ",") {
			if capability = strings.TrimSpace(capability); capability != "" {
				filter.Capabilities = append(filter.Capabilities, capability)
			}
		}
	}
	agents := h.registry.List(filter)
	c.JSON(200, gin.H{"agents": agents, "count": len(agents)})
}

func (h *AgentHandler) get(c *gin.Context) {
	info, err := h.registry.Get(c.Param("agent_id"))
	if err != nil {
		h.abortRegistryError(c, err)
		return
	}
	c.JSON(200, info)
}

func (h *AgentHandler) unregister(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !h.canManage(auth.ClaimsFromCtx(c), agentID) {
		problem.Abort(c, problem.KindInsufficientPermissions, "cannot unregister another agent")
		return
	}
	if err := h.registry.Unregister(c.Request.Context(), agentID); err != nil {
		h.abortRegistryError(c, err)
		return
	}
	h.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	c.JSON(200, gin.H{"status": "unregistered", "agent_id": agentID})
}

func (h *AgentHandler) heartbeat(c *gin.Context) {
	agentID := c.Param("agent_id")
	claims := auth.ClaimsFromCtx(c)
	if claims.Role != auth.RoleAdmin && claims.AgentID != agentID {
		problem.Abort(c, problem.KindInsufficientPermissions, "cannot heartbeat for another agent")
		return
	}
	resp, err := h.registry.Heartbeat(c.Request.Context(), agentID)
	if err != nil {
		h.abortRegistryError(c, err)
		return
	}
	c.JSON(200, resp)
}

func (h *AgentHandler) getMetrics(c *gin.Context) {
	m, err := h.registry.Metrics(c.Param("agent_id"))
	if err != nil {
		h.abortRegistryError(c, err)
		return
	}
	c.JSON(200, m)
}

func (h *AgentHandler) updateMetrics(c *gin.Context) {
	agentID := c.Param("agent_id")
	claims := auth.ClaimsFromCtx(c)
	if claims.Role != auth.RoleAdmin && claims.AgentID != agentID {
		problem.Abort(c, problem.KindInsufficientPermissions, "cannot report metrics for another agent")
		return
	}

	var upd model.MetricsUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		problem.Abort(c, problem.KindValidationError, "invalid metrics payload")
		return
	}
	m, err := h.registry.UpdateMetrics(c.Request.Context(), agentID, &upd)
	if err != nil {
		h.abortRegistryError(c, err)
		return
	}
	c.JSON(200, m)
}

// search is the authenticated search: results keep the owner field.
func (h *AgentHandler) search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "query is required")
		return
	}
	resp, err := h.registry.Search(c.Request.Context(), &req)
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "search failed")
		return
	}
	c.JSON(200, resp)
}

// abortRegistryError maps service errors onto the problem taxonomy.
func (h *AgentHandler) abortRegistryError(c *gin.Context, err error) {
	var vErr *model.ErrValidation
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		problem.Abort(c, problem.KindAgentNotFound, err.Error())
	case errors.Is(err, service.ErrAgentKeyInUse):
		problem.Abort(c, problem.KindAgentKeyInUse, err.Error())
	case errors.Is(err, service.ErrRegistration):
		problem.Abort(c, problem.KindAgentRegistrationError, err.Error())
	case errors.As(err, &vErr):
		problem.Abort(c, problem.KindValidationError, vErr.Error())
	default:
		h.logger.Error("registry operation failed", zap.Error(err))
		problem.Abort(c, problem.KindInternalError, "internal error")
	}
}
