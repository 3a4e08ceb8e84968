package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/ratelimit"
)

// Handlers bundles the route groups the router mounts.
type Handlers struct {
	Auth   *AuthHandler
	Agents *AgentHandler
	Public *PublicHandler
	WS     *WSHandler
	Health *HealthHandler
}

// NewRouter assembles the gin engine: logging, recovery, CORS, the per-IP
// throttle, every route group, and the Prometheus scrape endpoint.
func NewRouter(cfg *config.Config, m *metrics.Metrics, h Handlers, logger *zap.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(requestLogger(logger), gin.Recovery())

	// Security headers
	engine.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", auth.PinHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAll(cfg.CORSOrigins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	engine.Use(cors.New(corsCfg))

	if cfg.RateLimitEnabled && cfg.RateLimitRPS > 0 {
		engine.Use(ratelimit.PerIP(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	root := engine.Group("")
	h.Auth.Register(root)
	h.Agents.Register(root)
	h.Public.Register(root)
	h.WS.Register(root)
	h.Health.Register(root)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})
	return engine
}

func allowsAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
