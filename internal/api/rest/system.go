package rest

import (
	"context"
	"net/http"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// GET /api/system/status
func (s *Server) systemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.GetCurrentStatus())
}

// GET /api/serial-ports
func (s *Server) serialPorts(c *gin.Context) {
	ports, err := s.listPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			types.NewErrorResponse(string(types.KindIO), "Failed to enumerate serial ports", err.Error()))
		return
	}
	ports = lo.Uniq(ports)
	c.JSON(http.StatusOK, gin.H{
		"ports": ports,
		"count": len(ports),
	})
}

// POST /api/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context ends with this handler.
	go func() {
		if err := s.gw.Shutdown(context.Background()); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
