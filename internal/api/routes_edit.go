package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
)

// contentRequest names the content a deletion applies to.
type contentRequest struct {
	ContentID string `json:"content_id" binding:"required"`
}

// handleCreateStation registers a new station.
func (s *Server) handleCreateStation(c *gin.Context) {
	var st model.Station
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := validateStation(&st); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if _, err := s.deps.Stations.Station(c.Request.Context(), st.ID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "station already exists", "station": st.ID})
		return
	}

	if err := s.deps.Editor.SaveStation(c.Request.Context(), &st); err != nil {
		log.Error().Err(err).Str("station", st.ID).Msg("API: failed to create station")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("station", st.ID).Msg("API: station created")
	c.JSON(http.StatusCreated, gin.H{"status": "created", "station": st.ID})
}

// validateStation returns a message describing the first problem found.
func validateStation(st *model.Station) string {
	if st.ID == "" {
		return "station id is required"
	}
	if st.ControllerID != "" {
		if _, ok := st.Player(st.ControllerID); !ok {
			return "controller " + st.ControllerID + " is not a player of the station"
		}
	}
	for _, f := range st.Folders {
		for _, ct := range f.Contents {
			if _, ok := st.Player(ct.PlayerID); ct.PlayerID != "" && !ok {
				return "content " + ct.ID + " names unknown player " + ct.PlayerID
			}
		}
	}
	return ""
}

// handleDeleteStation removes a station with its queues.
func (s *Server) handleDeleteStation(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Editor.DeleteStation(c.Request.Context(), id); err != nil {
		s.stationError(c, err)
		return
	}
	log.Info().Str("station", id).Msg("API: station deleted")
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "station": id})
}

// handleUploadMedia stores a file for a content and queues it for upload.
// Media the player already holds for that content is queued for deletion.
func (s *Server) handleUploadMedia(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	st, err := s.deps.Stations.Station(ctx, id)
	if err != nil {
		s.stationError(c, err)
		return
	}
	contentID := c.PostForm("content_id")
	content := st.Content(contentID)
	if content == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "content not found", "content_id": contentID})
		return
	}
	if content.PlayerID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "content is not bound to a player", "content_id": contentID})
		return
	}

	kind, ok := mediaKind(c.PostForm("kind"), content.Media)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be image or video"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if ext == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file name has no extension"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if prev := content.Media; prev.Assigned() {
		if err := s.deps.Editor.AddPendingDeletion(ctx, id, model.PendingDeletion{PlayerID: content.PlayerID, MediaID: prev.ID}); err != nil {
			log.Error().Err(err).Str("station", id).Msg("API: failed to queue replaced media")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else if prev != nil && prev.Extension != ext {
		s.dropCachedFile(id, contentID, prev.Extension)
	}

	if err := s.deps.Files.Write(id, contentID, ext, data); err != nil {
		log.Error().Err(err).Str("station", id).Msg("API: failed to cache media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cached := model.CachedMedia{ContentID: contentID, PlayerID: content.PlayerID, Extension: ext}
	if err := s.deps.Editor.AddCachedMedia(ctx, id, cached); err != nil {
		log.Error().Err(err).Str("station", id).Msg("API: failed to queue media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	content.Media = &model.Media{Kind: kind, Extension: ext}
	if err := s.deps.Editor.SaveStation(ctx, st); err != nil {
		log.Error().Err(err).Str("station", id).Msg("API: failed to save station")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("station", id).Str("content", contentID).Int("bytes", len(data)).Msg("API: media queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "station": id, "content_id": contentID, "bytes": len(data)})
}

// handleDeleteMedia clears the media of a content. Media already on the
// player is queued for deletion; media still waiting for upload is dropped.
func (s *Server) handleDeleteMedia(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := s.deps.Stations.Station(ctx, id)
	if err != nil {
		s.stationError(c, err)
		return
	}
	content := st.Content(req.ContentID)
	if content == nil || content.Media == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "content has no media", "content_id": req.ContentID})
		return
	}

	media := content.Media
	if media.Assigned() {
		err = s.deps.Editor.AddPendingDeletion(ctx, id, model.PendingDeletion{PlayerID: content.PlayerID, MediaID: media.ID})
	} else {
		err = s.deps.Editor.RemoveCachedMedia(ctx, id, model.CachedMedia{ContentID: content.ID, PlayerID: content.PlayerID, Extension: media.Extension})
		if err == nil {
			s.dropCachedFile(id, content.ID, media.Extension)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("station", id).Msg("API: failed to queue media deletion")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	content.Media = nil
	if err := s.deps.Editor.SaveStation(ctx, st); err != nil {
		log.Error().Err(err).Str("station", id).Msg("API: failed to save station")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("station", id).Str("content", req.ContentID).Bool("remote", media.Assigned()).Msg("API: media removed")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "station": id, "content_id": req.ContentID, "remote": media.Assigned()})
}

func (s *Server) dropCachedFile(stationID, contentID, ext string) {
	if err := s.deps.Files.Remove(stationID, contentID, ext); err != nil {
		log.Warn().Err(err).Str("station", stationID).Str("content", contentID).Msg("API: failed to drop cached file")
	}
}

// mediaKind resolves the kind form value, falling back to the current media.
func mediaKind(value string, current *model.Media) (protocol.MediaKind, bool) {
	switch protocol.MediaKind(value) {
	case protocol.MediaImage, protocol.MediaVideo:
		return protocol.MediaKind(value), true
	case "":
		if current != nil && current.Kind != "" {
			return current.Kind, true
		}
	}
	return "", false
}
