package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/config"
)

// handleGetConfig returns the current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"network": s.cfg.GetNetwork(),
		"sync":    s.cfg.GetSync(),
		"storage": s.cfg.GetStorage(),
		"api":     s.cfg.GetAPI(),
		"mqtt":    s.cfg.GetMQTT(),
		"logging": s.cfg.GetLogging(),
	})
}

// handleSetSync replaces the sync section. The scheduler reads it on every
// tick.
func (s *Server) handleSetSync(c *gin.Context) {
	var syncCfg config.SyncConfig
	if err := c.ShouldBindJSON(&syncCfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetSync()
	s.cfg.SetSync(syncCfg)
	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetSync(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": result.Errors})
		return
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	log.Info().Str("default_role", syncCfg.DefaultRole).Msg("API: sync config updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"sync":   s.cfg.GetSync(),
	})
}
