package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"market-gateway/src/catalog"
	"market-gateway/src/history"
	"market-gateway/src/logger"
	"market-gateway/src/models"
	"market-gateway/src/router"

	"github.com/gin-gonic/gin"
)

// StatusSource exposes the live gateway state shown to clients.
type StatusSource interface {
	TradingStatus() models.MTradingStatus
	UpstreamConnected() bool
	// HistoryDate is the trading day whose session is replayed to new subscribers.
	HistoryDate() time.Time
}

// BackfillRequester schedules history loading off the dispatch path.
type BackfillRequester interface {
	Request(ctx context.Context, symbol models.MSymbol, date time.Time, deliver history.Delivery) error
}

// -----------------------------------------------------------------------------
// Server owns the downstream sessions and the HTTP surface.
// -----------------------------------------------------------------------------

type Server struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	catalog  *catalog.Catalog
	router   *router.Router
	store    *history.Store
	backfill BackfillRequester
	status   StatusSource

	// Session registry. Enqueues happen under RLock, close(send) under Lock.
	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool
	pumps    sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewServer(cfg *models.MConfig, cat *catalog.Catalog, rt *router.Router, store *history.Store, backfill BackfillRequester, status StatusSource, log *logger.Logger) *Server {
	if !strings.EqualFold(cfg.App.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Config:   cfg,
		Logger:   log,
		engine:   gin.New(),
		catalog:  cat,
		router:   rt,
		store:    store,
		backfill: backfill,
		status:   status,
		sessions: make(map[string]*Session),
		baseCtx:  ctx,
		cancel:   cancel,
	}

	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/symbols", s.getSymbols)
	api.GET("/status", s.getStatus)
	api.GET("/history/:symbol", s.getHistory)
	api.GET("/config", s.getConfig)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.Config.App.Host, fmt.Sprint(s.Config.App.Port))
	s.http.Addr = addr
	s.Logger.Info("Starting server on %s", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Shutdown stops accepting sessions, closes every live session and waits for
// their writers to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	s.closing = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.OnDisconnect(id)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warning("Timed out waiting for session writers to drain")
	}

	s.Logger.Info("Server stopped (%d sessions closed)", len(ids))
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"connections":        s.SessionCount(),
		"active_symbols":     len(s.router.ActiveSymbols()),
		"upstream_connected": s.status.UpstreamConnected(),
	})
}

// -----------------------------------------------------------------------------

func (s *Server) getSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols": s.catalog.Snapshot(),
	})
}

// -----------------------------------------------------------------------------

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"trading_session_status": s.status.TradingStatus(),
		"upstream_connected":     s.status.UpstreamConnected(),
		"active_subscriptions":   len(s.router.ActiveSymbols()),
		"connected_clients":      s.SessionCount(),
	})
}

// -----------------------------------------------------------------------------

func (s *Server) getHistory(c *gin.Context) {
	kind := c.DefaultQuery("kind", "ticks")
	if kind != "ticks" && kind != "candles" {
		c.JSON(http.StatusBadRequest, models.MErrorPayload{Message: "kind must be ticks or candles"})
		return
	}

	// Only subscriptions register instruments.
	sym, ok := s.catalog.Lookup(strings.ToUpper(c.Param("symbol")))
	if !ok {
		c.JSON(http.StatusNotFound, models.MErrorPayload{Message: "unknown symbol " + c.Param("symbol")})
		return
	}
	key := sym.Key()

	if kind == "ticks" {
		c.JSON(http.StatusOK, models.MHistoricalData{Symbol: key, Ticks: s.store.Ticks(key)})
		return
	}
	c.JSON(http.StatusOK, models.MCandleData{Symbol: key, Candles: s.store.Candles(key)})
}

// -----------------------------------------------------------------------------

func (s *Server) getConfig(c *gin.Context) {
	gw := s.Config.Gateway
	c.JSON(http.StatusOK, gin.H{
		"max_per_client":     gw.MaxPerClient,
		"history_capacity":   gw.HistoryCapacity,
		"candle_interval":    gw.CandleInterval.String(),
		"heartbeat_interval": gw.HeartbeatInterval.String(),
		"default_exchange":   s.Config.Catalog.DefaultExchange,
		"default_marker":     s.Config.Catalog.DefaultMarker,
	})
}
