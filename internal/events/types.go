// Package events defines the event bus and the event types published by
// stationsync components.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Sync events
	EventSyncProgress EventType = "sync_progress"
	EventSyncFinished EventType = "sync_finished"

	// Player events
	EventPlayerStatus    EventType = "player_status"
	EventPlayerBlocked   EventType = "player_blocked"
	EventPlayerUnblocked EventType = "player_unblocked"

	// System events
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ProgressKind identifies one sync sub-step.
type ProgressKind int

const (
	ProgressConnecting ProgressKind = iota
	ProgressStep
	ProgressConnected
	ProgressConnectionFailed
	ProgressBlocked
	ProgressMediaSendStart
	ProgressMediaSendProgress
	ProgressMediaSendSuccess
	ProgressMediaSendFailure
	ProgressDeleteStart
	ProgressDeleteSuccess
	ProgressDeleteFailure
	ProgressManifestSent
	ProgressManifestFailed
	ProgressNoController
	ProgressDone
)

var progressKindStrings = map[ProgressKind]string{
	ProgressConnecting:        "connecting",
	ProgressStep:              "step",
	ProgressConnected:         "connected",
	ProgressConnectionFailed:  "connection_failed",
	ProgressBlocked:           "blocked",
	ProgressMediaSendStart:    "media_send_start",
	ProgressMediaSendProgress: "media_send_progress",
	ProgressMediaSendSuccess:  "media_send_success",
	ProgressMediaSendFailure:  "media_send_failure",
	ProgressDeleteStart:       "delete_start",
	ProgressDeleteSuccess:     "delete_success",
	ProgressDeleteFailure:     "delete_failure",
	ProgressManifestSent:      "manifest_sent",
	ProgressManifestFailed:    "manifest_failed",
	ProgressNoController:      "no_controller",
	ProgressDone:              "done",
}

// String returns the string representation of ProgressKind.
func (k ProgressKind) String() string {
	if str, ok := progressKindStrings[k]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes ProgressKind as a JSON string (e.g. "connecting").
func (k ProgressKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Scope tells whether a progress event concerns a regular player or the controller.
type Scope int

const (
	ScopePlayer Scope = iota
	ScopeController
	ScopeStation
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopePlayer:
		return "player"
	case ScopeController:
		return "controller"
	default:
		return "station"
	}
}

// MarshalJSON serializes Scope as a JSON string.
func (s Scope) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SyncProgress reports one sync sub-step. Which fields are set depends on Kind.
type SyncProgress struct {
	RunID      string       `json:"run_id"`
	StationID  string       `json:"station_id"`
	Scope      Scope        `json:"scope"`
	Kind       ProgressKind `json:"kind"`
	PlayerID   string       `json:"player_id,omitempty"`
	PlayerName string       `json:"player_name,omitempty"`
	Address    string       `json:"address,omitempty"`

	// Step and Status describe health pipeline outcomes.
	Step         string `json:"step,omitempty"`
	StepIndex    int    `json:"step_index,omitempty"`
	StepTotal    int    `json:"step_total,omitempty"`
	Status       string `json:"status,omitempty"`
	Registration string `json:"registration,omitempty"`

	ContentID string `json:"content_id,omitempty"`
	MediaID   int    `json:"media_id,omitempty"`
	Sent      int    `json:"sent,omitempty"`
	Total     int    `json:"total,omitempty"`

	Success bool      `json:"success,omitempty"`
	Time    time.Time `json:"time"`
}

// ProgressSink consumes sync progress. Rendering is entirely the sink's concern.
type ProgressSink interface {
	Report(p SyncProgress)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(p SyncProgress)

// Report implements ProgressSink.
func (f SinkFunc) Report(p SyncProgress) { f(p) }

// Sinks fans progress out to several sinks.
type Sinks []ProgressSink

// Report implements ProgressSink.
func (s Sinks) Report(p SyncProgress) {
	for _, sink := range s {
		if sink != nil {
			sink.Report(p)
		}
	}
}

// PlayerStatusPayload is emitted after a health check of one player.
type PlayerStatusPayload struct {
	Address      string    `json:"address"`
	PlayerID     string    `json:"player_id,omitempty"`
	Status       string    `json:"status"`
	Registration string    `json:"registration,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// PlayerBlockPayload is emitted when a player blocks or unblocks this controller.
type PlayerBlockPayload struct {
	Address string    `json:"address"`
	Blocked bool      `json:"blocked"`
	At      time.Time `json:"at"`
}

// SyncFinishedPayload is emitted once a station sync ends.
type SyncFinishedPayload struct {
	RunID     string        `json:"run_id"`
	StationID string        `json:"station_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
}

// HeartbeatPayload summarizes fleet reachability.
type HeartbeatPayload struct {
	Players     int       `json:"players"`
	Online      int       `json:"online"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}
