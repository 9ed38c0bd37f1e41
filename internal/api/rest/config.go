package rest

import (
	"net/http"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/gin-gonic/gin"
)

type saveConfigRequest struct {
	DeviceID string             `json:"device_id" binding:"required"`
	Config   types.DeviceConfig `json:"config"`
}

// GET /api/config
func (s *Server) listConfigs(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Registry().ListConfigs())
}

// GET /api/config/:id
func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.gw.Registry().GetConfig(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// POST /api/config/save
func (s *Server) saveConfig(c *gin.Context) {
	var req saveConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	registry := s.gw.Registry()
	if err := registry.SaveConfig(c.Request.Context(), req.DeviceID, req.Config); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, registry.ListConfigs())
}

// DELETE /api/config/:id
func (s *Server) deleteConfig(c *gin.Context) {
	registry := s.gw.Registry()
	if err := registry.DeleteConfig(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, registry.ListConfigs())
}

// POST /api/reload
func (s *Server) reload(c *gin.Context) {
	registry := s.gw.Registry()
	if err := registry.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	devices := registry.ListDevices()
	c.JSON(http.StatusOK, gin.H{
		"message": "Registry reloaded",
		"devices": devices,
		"count":   len(devices),
	})
}
