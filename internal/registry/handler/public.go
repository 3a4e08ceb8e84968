package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/problem"
	"github.com/arcp-io/arcp/internal/registry/model"
	"github.com/arcp-io/arcp/internal/registry/service"
	"github.com/arcp-io/arcp/internal/sanitize"
)

// Pagination bounds for the public discovery listing.
const (
	defaultDiscoverLimit = 20
	maxDiscoverLimit     = 100
)

// connectTimeout bounds the outbound forward of a connection request to the
// target agent's endpoint.
const connectTimeout = 10 * time.Second

// PublicHandler serves the unauthenticated /public surface. Everything that
// leaves here is the redacted PublicAgent view.
type PublicHandler struct {
	cfg      *config.Config
	registry *service.Registry
	client   *http.Client
	logger   *zap.Logger
}

// NewPublicHandler wires the public discovery endpoints.
func NewPublicHandler(cfg *config.Config, registry *service.Registry, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: connectTimeout},
		logger:   logger,
	}
}

// Register mounts the routes.
func (h *PublicHandler) Register(r *gin.RouterGroup) {
	public := r.Group("/public")
	public.GET("/discover", h.discover)
	public.POST("/search", h.search)
	public.GET("/agent/:agent_id", h.agent)
	public.POST("/connect/:agent_id", h.connect)
	public.GET("/info", h.info)
	public.GET("/stats", h.stats)
	public.GET("/agent_types", h.agentTypes)
}

// discover lists alive agents with offset pagination.
func (h *PublicHandler) discover(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultDiscoverLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 {
		limit = defaultDiscoverLimit
	}
	if limit > maxDiscoverLimit {
		limit = maxDiscoverLimit
	}
	if offset < 0 {
		offset = 0
	}

	agents := h.registry.List(&model.ListFilter{
		AgentType: c.Query("agent_type"),
		Status:    model.StatusAlive,
	})
	total := len(agents)

	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]model.PublicAgent, 0, end-offset)
	for _, a := range agents[offset:end] {
		out = append(out, a.Public())
	}
	c.JSON(200, gin.H{
		"agents": out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// search is the public semantic search: same ranking as the authenticated
// one, redacted results.
func (h *PublicHandler) search(c *gin.Context) {
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
	for i := range resp.Results {
		resp.Results[i].Owner = ""
	}
	c.JSON(200, resp)
}

func (h *PublicHandler) agent(c *gin.Context) {
	info, err := h.registry.Get(c.Param("agent_id"))
	if err != nil {
		problem.Abort(c, problem.KindAgentNotFound, "agent not found")
		return
	}
	c.JSON(200, info.Public())
}

// connect forwards a connection request to the agent's own endpoint and
// relays the outcome. The registry brokers the introduction only; once the
// agent accepts, traffic flows directly between the two parties.
func (h *PublicHandler) connect(c *gin.Context) {
	agentID := c.Param("agent_id")
	var req model.ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem.Abort(c, problem.KindValidationError, "user_id and user_endpoint are required")
		return
	}

	info, err := h.registry.Get(agentID)
	if err != nil {
		problem.Abort(c, problem.KindAgentNotFound, "agent not found")
		return
	}
	if info.Status != model.StatusAlive {
		problem.Abort(c, problem.KindAgentNotFound, "agent is not currently available")
		return
	}

	h.logger.Info("connection request",
		zap.String("agent_id", agentID),
		zap.String("user_id", sanitize.String(req.UserID)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		problem.Abort(c, problem.KindInternalError, "connection request could not be encoded")
		return
	}
	fwd, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, info.Endpoint, bytes.NewReader(body))
	if err != nil {
		problem.Abort(c, problem.KindAgentUnreachable, "agent endpoint is not a valid URL")
		return
	}
	fwd.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(fwd)
	if err != nil {
		h.logger.Warn("connection forward failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		problem.Abort(c, problem.KindAgentUnreachable, "agent endpoint did not respond")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		problem.Abort(c, problem.KindAgentUnreachable,
			"agent endpoint returned status "+strconv.Itoa(resp.StatusCode))
		return
	}

	// Non-JSON agent replies are tolerated; the acknowledgement alone is
	// enough to confirm the introduction.
	var agentResp map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&agentResp); err != nil {
		agentResp = nil
	}
	c.JSON(200, gin.H{
		"status":         "success",
		"agent_id":       agentID,
		"agent_endpoint": info.Endpoint,
		"agent_response": agentResp,
	})
}

// info describes the service and its public surface.
func (h *PublicHandler) info(c *gin.Context) {
	c.JSON(200, gin.H{
		"service": config.ServiceName,
		"version": config.ServiceVersion,
		"endpoints": gin.H{
			"discover":    "/public/discover",
			"search":      "/public/search",
			"agent":       "/public/agent/{agent_id}",
			"connect":     "/public/connect/{agent_id}",
			"stats":       "/public/stats",
			"agent_types": "/public/agent_types",
			"websocket":   "/public/ws",
		},
		"features": gin.H{
			"vector_search":    true,
			"websocket_stream": true,
		},
	})
}

func (h *PublicHandler) stats(c *gin.Context) {
	c.JSON(200, h.registry.Stats())
}

func (h *PublicHandler) agentTypes(c *gin.Context) {
	c.JSON(200, gin.H{"agent_types": h.registry.AgentTypes()})
}
