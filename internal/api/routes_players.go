package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// controlRequest is the body of the control and light endpoints.
type controlRequest struct {
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args"`
}

// handleListPlayerHealth returns the last monitor result for every player.
func (s *Server) handleListPlayerHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"players": s.deps.Health.Statuses()})
}

// handleCheckPlayer runs the connection pipeline against one address.
func (s *Server) handleCheckPlayer(c *gin.Context) {
	addr := c.Param("address")
	role, ok := parseRole(c)
	if !ok {
		return
	}

	res := s.deps.Health.Check(c.Request.Context(), addr, role)
	c.JSON(http.StatusOK, gin.H{
		"address":      addr,
		"status":       res.Status,
		"registration": res.Registration,
		"online":       res.Online(),
		"blocked":      res.Blocked(),
	})
}

// handleGetContents fetches the manifest held by a player.
func (s *Server) handleGetContents(c *gin.Context) {
	addr := c.Param("address")
	if !s.requireConnection(c, addr) {
		return
	}

	contents, ok := s.deps.Players.FetchContents(c.Request.Context(), addr)
	if !ok {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "player did not answer", "address": addr})
		return
	}
	if json.Valid([]byte(contents)) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(contents))
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "contents": contents})
}

// handleMediaControl sends a media/control command.
func (s *Server) handleMediaControl(c *gin.Context) {
	s.sendControl(c, "media control", func(addr string, req controlRequest) bool {
		return s.deps.Players.MediaControl(c.Request.Context(), addr, req.Command, req.Args...)
	})
}

// handleLight sends a light preset command.
func (s *Server) handleLight(c *gin.Context) {
	s.sendControl(c, "light", func(addr string, req controlRequest) bool {
		return s.deps.Players.Light(c.Request.Context(), addr, req.Command, req.Args...)
	})
}

func (s *Server) sendControl(c *gin.Context, what string, send func(addr string, req controlRequest) bool) {
	addr := c.Param("address")
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.requireConnection(c, addr) {
		return
	}

	if !send(addr, req) {
		c.JSON(http.StatusBadGateway, gin.H{"error": what + " not delivered", "address": addr})
		return
	}

	log.Info().Str("address", addr).Str("command", req.Command).Msgf("API: %s sent", what)
	c.JSON(http.StatusOK, gin.H{"status": "sent", "address": addr, "command": req.Command})
}

// handleDisconnect asks a player to drop the session and closes the socket.
func (s *Server) handleDisconnect(c *gin.Context) {
	addr := c.Param("address")
	if !s.requireConnection(c, addr) {
		return
	}

	if !s.deps.Players.Disconnect(c.Request.Context(), addr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "disconnect not delivered", "address": addr})
		return
	}
	log.Info().Str("address", addr).Msg("API: player disconnected")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "address": addr})
}

func (s *Server) requireConnection(c *gin.Context, addr string) bool {
	if s.deps.Players.HasConnection(addr) {
		return true
	}
	c.JSON(http.StatusConflict, gin.H{"error": "player not connected", "address": addr})
	return false
}
