package handler

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/bus"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/metrics"
	"github.com/arcp-io/arcp/internal/registry/model"
	"github.com/arcp-io/arcp/internal/registry/service"
)

// wsWriteTimeout bounds a single frame write.
const wsWriteTimeout = 10 * time.Second

// wsOutboundBuffer is the per-connection send queue depth.
const wsOutboundBuffer = 32

// wsMessage is the envelope for every frame on the public stream.
type wsMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// WSHandler serves the public websocket stream: a live feed of registry
// stats and agent changes, plus a small request/response protocol for
// discovery pagination.
type WSHandler struct {
	cfg      *config.Config
	registry *service.Registry
	events   *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	upgrader websocket.Upgrader
	conns    atomic.Int64
}

// NewWSHandler wires the websocket endpoint.
func NewWSHandler(cfg *config.Config, registry *service.Registry, events *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *WSHandler {
	h := &WSHandler{
		cfg:      cfg,
		registry: registry,
		events:   events,
		metrics:  m,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// Register mounts the route.
func (h *WSHandler) Register(r *gin.RouterGroup) {
	r.GET("/public/ws", h.serve)
}

// originAllowed applies the CORS origin list to websocket upgrades. Requests
// without an Origin header (non-browser clients) are allowed.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) serve(c *gin.Context) {
	if limit := int64(h.cfg.WebSocketMaxConns); limit > 0 && h.conns.Load() >= limit {
		c.JSON(503, gin.H{"error": "websocket connection limit reached"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.conns.Add(1)
	h.metrics.WSConnections.Inc()
	defer func() {
		conn.Close()
		h.conns.Add(-1)
		h.metrics.WSConnections.Dec()
	}()

	outbound := make(chan wsMessage, wsOutboundBuffer)
	done := make(chan struct{})

	events, unsubscribe := h.events.Subscribe(wsOutboundBuffer, bus.TopicAgent, bus.TopicMetrics)
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(h.cfg.WebSocketTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.WebSocketTimeout))
		return nil
	})

	go h.readLoop(conn, outbound, done)

	h.send(conn, wsMessage{
		Type:      "welcome",
		Timestamp: time.Now().UTC(),
		Data: gin.H{
			"service": config.ServiceName,
			"version": config.ServiceVersion,
		},
	})

	statsTicker := time.NewTicker(h.cfg.WebSocketPingInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-outbound:
			if !h.send(conn, msg) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Evicted as a laggard; the client reconnects.
				return
			}
			if !h.send(conn, wsMessage{Type: "agents_update", Timestamp: ev.Time, Data: ev}) {
				return
			}
		case <-statsTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if !h.send(conn, wsMessage{Type: "stats_update", Timestamp: time.Now().UTC(), Data: h.registry.Stats()}) {
				return
			}
		}
	}
}

// send writes one frame; false means the connection is gone.
func (h *WSHandler) send(conn *websocket.Conn, msg wsMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}

// clientMessage is the inbound protocol.
type clientMessage struct {
	Type     string `json:"type"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// readLoop consumes client frames and queues responses. It owns the read
// side; closing done tears the connection down.
func (h *WSHandler) readLoop(conn *websocket.Conn, outbound chan<- wsMessage, done chan<- struct{}) {
	defer close(done)
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.cfg.WebSocketTimeout))

		switch msg.Type {
		case "ping":
			h.queue(outbound, wsMessage{Type: "pong", Timestamp: time.Now().UTC()})
		case "get_discovery":
			h.queue(outbound, h.discoveryMessage(msg.Page, msg.PageSize))
		default:
			h.queue(outbound, wsMessage{
				Type:      "error",
				Timestamp: time.Now().UTC(),
				Data:      gin.H{"message": "unknown message type"},
			})
		}
	}
}

// queue enqueues without blocking; a full queue drops the frame, the
// connection-level laggard handling catches persistent slowness.
func (h *WSHandler) queue(outbound chan<- wsMessage, msg wsMessage) {
	select {
	case outbound <- msg:
	default:
	}
}

// discoveryMessage builds one page of the public agent listing.
func (h *WSHandler) discoveryMessage(page, pageSize int) wsMessage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxDiscoverLimit {
		pageSize = defaultDiscoverLimit
	}

	agents := h.registry.List(&model.ListFilter{Status: model.StatusAlive})
	total := len(agents)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]model.PublicAgent, 0, end-start)
	for _, a := range agents[start:end] {
		out = append(out, a.Public())
	}
	return wsMessage{
		Type:      "discovery_data",
		Timestamp: time.Now().UTC(),
		Data: gin.H{
			"agents":    out,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	}
}
