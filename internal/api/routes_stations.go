package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/store"
)

type stationSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ControllerID string `json:"controller_id,omitempty"`
	Players      int    `json:"players"`
	Contents     int    `json:"contents"`
}

// handleListStations returns a summary of every registered station.
func (s *Server) handleListStations(c *gin.Context) {
	stations, err := s.deps.Stations.Stations(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list stations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stations"})
		return
	}

	out := make([]stationSummary, 0, len(stations))
	for _, st := range stations {
		sum := stationSummary{
			ID:           st.ID,
			Name:         st.Name,
			ControllerID: st.ControllerID,
			Players:      len(st.Players),
		}
		for _, f := range st.Folders {
			sum.Contents += len(f.Contents)
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, gin.H{"stations": out})
}

// handleGetStation returns one station document.
func (s *Server) handleGetStation(c *gin.Context) {
	st, err := s.deps.Stations.Station(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.stationError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleSyncStation starts a synchronization. With ?wait=true the request
// blocks until the run finishes and returns its progress events.
func (s *Server) handleSyncStation(c *gin.Context) {
	id := c.Param("id")
	role, ok := parseRole(c)
	if !ok {
		return
	}

	if c.Query("wait") != "true" {
		// The run must outlive the HTTP request.
		go func() {
			if _, err := s.deps.Syncer.SyncStation(context.Background(), id, role, nil); err != nil {
				log.Error().Err(err).Str("station", id).Msg("API: background sync failed")
			}
		}()
		log.Info().Str("station", id).Str("role", string(role)).Msg("API: sync started")
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "station": id})
		return
	}

	var (
		mu       sync.Mutex
		progress []events.SyncProgress
	)
	sink := events.SinkFunc(func(p events.SyncProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})

	success, err := s.deps.Syncer.SyncStation(c.Request.Context(), id, role, sink)
	if err != nil {
		s.stationError(c, err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"station": id,
		"success": success,
		"events":  progress,
	})
}

func (s *Server) stationError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrStationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found", "station": c.Param("id")})
		return
	}
	log.Error().Err(err).Str("station", c.Param("id")).Msg("API: station request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// parseRole reads the role query parameter, answering 400 when it is invalid.
func parseRole(c *gin.Context) (protocol.Role, bool) {
	role, err := protocol.ParseRole(c.Query("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return protocol.RoleNone, false
	}
	return role, true
}
