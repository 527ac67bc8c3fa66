// Package model holds the station description that stationsync pushes to
// players: stations, players, folders, contents and their media.
package model

import (
	"encoding/json"

	"github.com/playfleet/stationsync/internal/protocol"
)

// Station groups one controller and its players with a shared manifest.
type Station struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ControllerID string   `json:"controller_id,omitempty"`
	Players      []Player `json:"players"`
	Folders      []Folder `json:"folders"`
}

// Player is a networked playback appliance.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Folder groups contents.
type Folder struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Contents []Content `json:"contents"`
}

// Content is one playable item bound to a player.
type Content struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PlayerID string `json:"player_id"`
	Media    *Media `json:"media,omitempty"`
}

// Media is an image or video held by a player. ID is the player-assigned id;
// values <= 0 are local placeholders until the upload is acknowledged.
type Media struct {
	ID        int                `json:"id"`
	Kind      protocol.MediaKind `json:"kind"`
	Extension string             `json:"extension"`
}

// Assigned reports whether the player has assigned an id.
func (m *Media) Assigned() bool {
	return m != nil && m.ID > 0
}

// CachedMedia describes a locally held file awaiting upload to a player.
type CachedMedia struct {
	ContentID string `json:"content_id"`
	PlayerID  string `json:"player_id"`
	Extension string `json:"extension"`
}

// PendingDeletion is a remote media id to delete on a player.
type PendingDeletion struct {
	PlayerID string `json:"player_id"`
	MediaID  int    `json:"media_id"`
}

// Player returns the player with the given id.
func (s *Station) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Controller returns the designated controller player.
func (s *Station) Controller() (Player, bool) {
	if s.ControllerID == "" {
		return Player{}, false
	}
	return s.Player(s.ControllerID)
}

// Content returns a pointer into the station tree so callers can update media ids in place.
func (s *Station) Content(id string) *Content {
	for fi := range s.Folders {
		for ci := range s.Folders[fi].Contents {
			if s.Folders[fi].Contents[ci].ID == id {
				return &s.Folders[fi].Contents[ci]
			}
		}
	}
	return nil
}

// AdoptAssignedMedia copies player-assigned media ids from prev onto contents
// of s that still carry a placeholder for the same kind and extension.
// It returns the number of ids taken over.
func (s *Station) AdoptAssignedMedia(prev *Station) int {
	n := 0
	for fi := range s.Folders {
		for ci := range s.Folders[fi].Contents {
			c := &s.Folders[fi].Contents[ci]
			if c.Media == nil || c.Media.Assigned() {
				continue
			}
			old := prev.Content(c.ID)
			if old == nil || !old.Media.Assigned() {
				continue
			}
			if old.Media.Kind != c.Media.Kind || old.Media.Extension != c.Media.Extension {
				continue
			}
			c.Media.ID = old.Media.ID
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (s *Station) Clone() *Station {
	cp := *s
	cp.Players = append([]Player(nil), s.Players...)
	cp.Folders = make([]Folder, len(s.Folders))
	for i, f := range s.Folders {
		cp.Folders[i] = f
		cp.Folders[i].Contents = make([]Content, len(f.Contents))
		for j, c := range f.Contents {
			if c.Media != nil {
				m := *c.Media
				c.Media = &m
			}
			cp.Folders[i].Contents[j] = c
		}
	}
	return &cp
}

// manifest is the contents.json document held by the controller.
type manifest struct {
	Station      string   `json:"station"`
	ControllerID string   `json:"controller_id"`
	Players      []Player `json:"players"`
	Folders      []Folder `json:"folders"`
}

// Manifest serializes the authoritative contents document for the controller.
func (s *Station) Manifest() ([]byte, error) {
	return json.Marshal(manifest{
		Station:      s.Name,
		ControllerID: s.ControllerID,
		Players:      s.Players,
		Folders:      s.Folders,
	})
}

// Encode serializes the station for storage.
func (s *Station) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeStation parses a stored station.
func DecodeStation(data []byte) (*Station, error) {
	var s Station
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
