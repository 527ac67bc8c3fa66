package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/health"
	"github.com/playfleet/stationsync/internal/metrics"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
)

// StationStore lists the stations known to the registry.
type StationStore interface {
	Stations(ctx context.Context) ([]*model.Station, error)
	Station(ctx context.Context, id string) (*model.Station, error)
}

// StationEditor changes the registry and queues media work for the next sync.
type StationEditor interface {
	SaveStation(ctx context.Context, s *model.Station) error
	DeleteStation(ctx context.Context, id string) error
	AddCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error
	RemoveCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error
	AddPendingDeletion(ctx context.Context, stationID string, d model.PendingDeletion) error
}

// MediaCache holds uploaded files until a sync sends them to a player.
type MediaCache interface {
	Write(stationID, contentID, ext string, data []byte) error
	Remove(stationID, contentID, ext string) error
}

// Syncer runs station synchronizations.
type Syncer interface {
	SyncStation(ctx context.Context, stationID string, role protocol.Role, sink events.ProgressSink) (bool, error)
}

// HealthChecker runs on-demand checks and reports cached results.
type HealthChecker interface {
	Check(ctx context.Context, addr string, role protocol.Role) health.Result
	Statuses() []health.PlayerHealth
}

// PlayerControl sends ad-hoc commands to players.
type PlayerControl interface {
	HasConnection(addr string) bool
	FetchContents(ctx context.Context, addr string) (string, bool)
	MediaControl(ctx context.Context, addr, command string, args ...string) bool
	Light(ctx context.Context, addr, preset string, args ...string) bool
	Disconnect(ctx context.Context, addr string) bool
}

// Deps bundles the components the API serves.
type Deps struct {
	Stations StationStore
	Editor   StationEditor
	Files    MediaCache
	Syncer   Syncer
	Health   HealthChecker
	Players  PlayerControl
	Metrics  *metrics.Metrics
	EventBus *events.EventBus
}

// Server is the REST API server for stationsync.
type Server struct {
	cfg  *config.Config
	deps Deps

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.GetAPI().Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Synchronous sync requests may run for minutes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	apiCfg := s.cfg.GetAPI()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())
	if s.deps.Metrics != nil {
		router.Use(RequestMetrics(s.deps.Metrics))
	}

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	stations := router.Group("/api/stations")
	{
		stations.GET("", s.handleListStations)
		stations.GET("/:id", s.handleGetStation)
		stations.POST("/:id/sync", s.handleSyncStation)

		// Registry editing needs write access to the store and media cache.
		if s.deps.Editor != nil && s.deps.Files != nil {
			stations.POST("", s.handleCreateStation)
			stations.DELETE("/:id", s.handleDeleteStation)
			stations.POST("/:id/media", s.handleUploadMedia)
			stations.POST("/:id/deletions", s.handleDeleteMedia)
		}
	}

	players := router.Group("/api/players")
	{
		players.GET("", s.handleListPlayerHealth)
		players.GET("/:address/health", s.handleCheckPlayer)
		players.GET("/:address/contents", s.handleGetContents)
		players.POST("/:address/control", s.handleMediaControl)
		players.POST("/:address/light", s.handleLight)
		players.POST("/:address/disconnect", s.handleDisconnect)
	}

	cfgGroup := router.Group("/api/config")
	{
		cfgGroup.GET("", s.handleGetConfig)
		cfgGroup.POST("/sync", s.handleSetSync)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler(nil)))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "stationsync API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
