package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/api/websocket"
	"github.com/KevinKickass/ScaleGate/internal/auth"
	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/interfaces"
	"github.com/KevinKickass/ScaleGate/internal/transport"
	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by /health.
var Version = "dev"

type Server struct {
	router *gin.Engine
	gw     interfaces.Gateway
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
	jwt    *auth.JWTHandler

	listPorts func() ([]string, error)
}

// NewServer wires the routes. A nil jwt leaves every route open.
func NewServer(cfg *config.Config, gw interfaces.Gateway, wsHub *websocket.Hub, jwt *auth.JWTHandler, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:    gin.New(),
		gw:        gw,
		logger:    logger,
		wsHub:     wsHub,
		jwt:       jwt,
		listPorts: transport.ListSerialPorts,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Commands may wait on slow serial devices.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind failures
// are returned; later serve failures are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// guard returns the middleware chain a mutating route needs.
func (s *Server) guard(p auth.Permission, h gin.HandlerFunc) []gin.HandlerFunc {
	if s.jwt == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{s.jwt.Middleware(), auth.RequirePermission(p), h}
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/devices", s.listDevices)
	s.router.POST("/scalecmd", s.scaleCommand)

	api := s.router.Group("/api")
	{
		api.GET("/config", s.listConfigs)
		api.GET("/config/:id", s.getConfig)
		api.POST("/config/save", s.guard(auth.PermTechnician, s.saveConfig)...)
		api.DELETE("/config/:id", s.guard(auth.PermTechnician, s.deleteConfig)...)
		api.POST("/reload", s.guard(auth.PermTechnician, s.reload)...)

		api.POST("/devices/:id/test", s.testConnection)
		api.GET("/serial-ports", s.serialPorts)

		api.GET("/system/status", s.systemStatus)
		api.POST("/shutdown", s.guard(auth.PermAdmin, s.shutdown)...)
	}

	s.router.GET("/ws/live", s.wsLiveConnection)
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// writeError maps a gateway error onto a status code and error body.
func writeError(c *gin.Context, err error) {
	kind := types.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case types.KindDeviceNotFound:
		status = http.StatusNotFound
	case types.KindConfiguration:
		status = http.StatusBadRequest
	case "":
		kind = "INTERNAL_ERROR"
	}

	c.JSON(status, types.NewErrorResponse(string(kind), err.Error(), nil))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse("BAD_REQUEST", "Invalid request body", err.Error()))
}
