// Package api exposes the Control API: a status endpoint, the override
// console's command surface, and a server-push websocket stream that
// mirrors every internal event onto connected operators. Grounded on
// the teacher's gin server/handlers and websocket broadcast hub,
// generalized from multi-tenant JWT-scoped routes to a single-operator
// control surface.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/events"
	"tokensentinel/internal/logging"
	"tokensentinel/internal/override"
	"tokensentinel/internal/strategy"
)

// StatusProvider supplies the data the /status endpoint reports.
type StatusProvider interface {
	ProviderHealthSnapshot() []domain.ProviderHealth
	OpenPositions() []domain.Position
	StrategyStats() []strategy.Stats
	EmergencyStopped() bool
	Paused() bool
}

// Server hosts the Control API.
type Server struct {
	engine   *gin.Engine
	status   StatusProvider
	console  *override.Console
	bus      *events.Bus
	upgrader websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]bool

	log *logging.Logger
}

// NewServer wires the Control API routes.
func NewServer(status StatusProvider, console *override.Console, bus *events.Bus, allowedOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		engine:    engine,
		status:    status,
		console:   console,
		bus:       bus,
		wsClients: make(map[*websocket.Conn]bool),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:       logging.WithComponent("api"),
	}

	s.registerRoutes()
	s.bus.SubscribeAll(s.broadcastEvent)
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/stream", s.handleStream)

	overrideGroup := s.engine.Group("/override")
	overrideGroup.POST("/emergency_stop", s.handleOverride(domain.OverrideEmergencyStop))
	overrideGroup.POST("/pause", s.handleOverride(domain.OverridePause))
	overrideGroup.POST("/resume", s.handleOverride(domain.OverrideResume))
	overrideGroup.POST("/reset", s.handleOverride(domain.OverrideReset))

	trade := s.engine.Group("/trade")
	trade.POST("/buy", s.handleManualTrade(domain.OverrideManualBuy))
	trade.POST("/sell", s.handleManualTrade(domain.OverrideManualSell))
	trade.POST("/close/:mint", s.handleClosePosition)

	strat := s.engine.Group("/strategy")
	strat.POST("/override", s.handleStrategyOverride)
	strat.POST("/reset", s.handleStrategyReset)
}

// Handler returns the underlying gin engine, for binding to an
// http.Server in main.go alongside graceful shutdown.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers":         s.status.ProviderHealthSnapshot(),
		"positions":         s.status.OpenPositions(),
		"strategies":        s.status.StrategyStats(),
		"emergency_stopped": s.status.EmergencyStopped(),
		"paused":            s.status.Paused(),
	})
}

func (s *Server) handleOverride(kind domain.OverrideKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmd := domain.OverrideCommand{Kind: kind, SubmittedAt: time.Now()}
		if err := s.console.Submit(c.Request.Context(), cmd); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	}
}

type manualTradeRequest struct {
	MintAddress string  `json:"mint_address" binding:"required"`
	SizeBase    float64 `json:"size_base"`
	Slippage    float64 `json:"slippage"`
}

func (s *Server) handleManualTrade(kind domain.OverrideKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req manualTradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cmd := domain.OverrideCommand{
			Kind:        kind,
			MintAddress: req.MintAddress,
			SizeBase:    req.SizeBase,
			Slippage:    req.Slippage,
			SubmittedAt: time.Now(),
		}
		if err := s.console.Submit(c.Request.Context(), cmd); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	}
}

func (s *Server) handleClosePosition(c *gin.Context) {
	mint := c.Param("mint")
	cmd := domain.OverrideCommand{Kind: domain.OverrideClosePosition, MintAddress: mint, SubmittedAt: time.Now()}
	if err := s.console.Submit(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type strategyOverrideRequest struct {
	StrategyTag    string             `json:"strategy_tag" binding:"required"`
	ParamOverrides map[string]float64 `json:"param_overrides"`
}

func (s *Server) handleStrategyOverride(c *gin.Context) {
	var req strategyOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := domain.OverrideCommand{
		Kind:           domain.OverrideStrategyOverride,
		MintAddress:    req.StrategyTag,
		ParamOverrides: req.ParamOverrides,
		SubmittedAt:    time.Now(),
	}
	if err := s.console.Submit(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handleStrategyReset(c *gin.Context) {
	cmd := domain.OverrideCommand{Kind: domain.OverrideStrategyReset, SubmittedAt: time.Now()}
	if err := s.console.Submit(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.wsMu.Lock()
	s.wsClients[conn] = true
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	// Drain client reads so the connection's close/ping frames are
	// handled; operators never send application data over this stream.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastEvent(ev events.Event) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsClients {
		if err := conn.WriteJSON(ev); err != nil {
			conn.Close()
			delete(s.wsClients, conn)
		}
	}
}
