package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "scalegate",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// GET /devices
func (s *Server) listDevices(c *gin.Context) {
	devices := s.gw.Registry().ListDevices()
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// POST /scalecmd
func (s *Server) scaleCommand(c *gin.Context) {
	var req types.ScaleCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	reading, err := s.gw.Registry().ExecuteCommand(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ScaleCommandResponse{
		DeviceID: req.DeviceID,
		Command:  req.Command,
		Result:   reading,
	})
}

// POST /api/devices/:id/test
func (s *Server) testConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.gw.Registry().TestConnection(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": id,
		"reachable": true,
	})
}
