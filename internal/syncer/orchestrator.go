// Package syncer reconciles a station's locally queued media uploads and
// deletions against its players, then hands the controller the
// authoritative manifest.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/health"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/network"
	"github.com/playfleet/stationsync/internal/protocol"
)

var (
	// ErrUnknownPlayer is returned when a queue entry names a player the station does not have.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrUnknownContent is returned when a cached media entry names a content without media.
	ErrUnknownContent = errors.New("unknown content")
)

// Repository is the station registry with its upload and deletion queues.
type Repository interface {
	Station(ctx context.Context, id string) (*model.Station, error)
	SaveStation(ctx context.Context, s *model.Station) error
	CachedMedia(ctx context.Context, stationID string) ([]model.CachedMedia, error)
	RemoveCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error
	PendingDeletions(ctx context.Context, stationID string) ([]model.PendingDeletion, error)
	RemovePendingDeletion(ctx context.Context, stationID string, d model.PendingDeletion) error
}

// Snapshots stores the in-progress station keyed by station id.
type Snapshots interface {
	Get(ctx context.Context, stationID string) ([]byte, bool, error)
	Put(ctx context.Context, stationID string, data []byte) error
	Delete(ctx context.Context, stationID string) error
}

// MediaFiles gives access to cached media bytes.
type MediaFiles interface {
	Read(stationID, contentID, ext string) ([]byte, error)
	Remove(stationID, contentID, ext string) error
}

// HealthChecker runs the connection pipeline.
type HealthChecker interface {
	Run(ctx context.Context, addr string, role protocol.Role, progress health.ProgressFunc) health.Result
}

// PlayerClient sends sync commands to players.
type PlayerClient interface {
	PutMedia(ctx context.Context, addr string, kind protocol.MediaKind, file []byte, progress network.ProgressFunc) (int, bool)
	DeleteMedia(ctx context.Context, addr string, mediaID int) bool
	SendContents(ctx context.Context, addr, manifestJSON string) bool
}

// Recorder collects sync statistics.
type Recorder interface {
	ObserveSync(success bool, elapsed time.Duration)
	AddMediaBytes(n int)
}

// Options configures an Orchestrator.
type Options struct {
	// DefaultRole is used when SyncStation is called with RoleNone.
	DefaultRole protocol.Role
}

// Deps bundles the orchestrator collaborators.
type Deps struct {
	Repository Repository
	Snapshots  Snapshots
	Files      MediaFiles
	Health     HealthChecker
	Client     PlayerClient
	Recorder   Recorder
	EventBus   *events.EventBus
}

// Orchestrator runs station synchronizations. Concurrent calls for the same
// station share one run.
type Orchestrator struct {
	deps   Deps
	opts   Options
	group  singleflight.Group
	logger zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.DefaultRole == protocol.RoleNone {
		opts.DefaultRole = protocol.RoleAdmin
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: log.With().Str("component", "syncer").Logger(),
	}
}

// playerQueue is the work for one player, in execution order.
type playerQueue struct {
	player    model.Player
	media     []model.CachedMedia
	deletions []model.PendingDeletion
}

// run carries per-sync state.
type run struct {
	id        string
	stationID string
	station   *model.Station
	role      protocol.Role
	sink      events.ProgressSink
	logger    zerolog.Logger
}

func (r *run) report(p events.SyncProgress) {
	p.RunID = r.id
	p.StationID = r.stationID
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	r.sink.Report(p)
}

func (r *run) reportPlayer(scope events.Scope, kind events.ProgressKind, player model.Player, p events.SyncProgress) {
	p.Scope = scope
	p.Kind = kind
	p.PlayerID = player.ID
	p.PlayerName = player.Name
	p.Address = player.Address
	r.report(p)
}

// SyncStation synchronizes stationID. It returns true only when every
// affected player was reconciled and the controller accepted the manifest.
// Network failures yield false; errors are reserved for local failures such
// as an unknown station or a storage error.
func (o *Orchestrator) SyncStation(ctx context.Context, stationID string, role protocol.Role, sink events.ProgressSink) (bool, error) {
	v, err, shared := o.group.Do(stationID, func() (interface{}, error) {
		return o.syncStation(ctx, stationID, role, sink)
	})
	if shared {
		o.logger.Debug().Str("station", stationID).Msg("joined running sync")
	}
	ok, _ := v.(bool)
	return ok, err
}

func (o *Orchestrator) syncStation(ctx context.Context, stationID string, role protocol.Role, sink events.ProgressSink) (bool, error) {
	if role == protocol.RoleNone {
		role = o.opts.DefaultRole
	}
	start := time.Now()

	r := &run{
		id:        uuid.NewString(),
		stationID: stationID,
		role:      role,
		sink:      o.sinks(ctx, sink),
	}
	r.logger = o.logger.With().Str("station", stationID).Str("run", r.id).Logger()

	ok, err := o.execute(ctx, r)

	elapsed := time.Since(start)
	if o.deps.Recorder != nil {
		o.deps.Recorder.ObserveSync(ok, elapsed)
	}
	if o.deps.EventBus != nil {
		o.deps.EventBus.Emit(ctx, events.Event{
			Type:   events.EventSyncFinished,
			Source: "syncer",
			Payload: events.SyncFinishedPayload{
				RunID:     r.id,
				StationID: stationID,
				Success:   ok,
				Duration:  elapsed,
			},
		})
	}

	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Error().Err(err)
	}
	ev.Bool("success", ok).Dur("elapsed", elapsed).Msg("station sync finished")
	return ok, err
}

func (o *Orchestrator) sinks(ctx context.Context, sink events.ProgressSink) events.ProgressSink {
	var out events.Sinks
	if sink != nil {
		out = append(out, sink)
	}
	if o.deps.EventBus != nil {
		out = append(out, o.deps.EventBus.ProgressSink(ctx, "syncer"))
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (bool, error) {
	station, resumed, err := o.loadStation(ctx, r.stationID)
	if err != nil {
		return false, err
	}
	r.station = station
	if resumed {
		r.logger.Info().Msg("resuming from snapshot")
	}

	controller, hasController := station.Controller()
	if !hasController {
		r.report(events.SyncProgress{Scope: events.ScopeStation, Kind: events.ProgressNoController})
		r.report(events.SyncProgress{Scope: events.ScopeStation, Kind: events.ProgressDone})
		return false, nil
	}

	cached, err := o.deps.Repository.CachedMedia(ctx, r.stationID)
	if err != nil {
		return false, err
	}
	deletions, err := o.deps.Repository.PendingDeletions(ctx, r.stationID)
	if err != nil {
		return false, err
	}
	queues, err := groupByPlayer(station, cached, deletions)
	if err != nil {
		return false, err
	}

	success := true
	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		scope := events.ScopePlayer
		if q.player.ID == controller.ID {
			scope = events.ScopeController
		}
		if !o.syncPlayer(ctx, r, scope, q) {
			success = false
		}
		if err := o.checkpoint(ctx, r); err != nil {
			return false, err
		}
	}

	if success {
		success, err = o.handOff(ctx, r, controller)
	}
	r.report(events.SyncProgress{Scope: events.ScopeStation, Kind: events.ProgressDone, Success: success})
	return success, err
}

// loadStation reads the registry copy, which stays authoritative for the
// station layout, and takes over the media ids an earlier unfinished run
// already got assigned, as recorded in its checkpoint.
func (o *Orchestrator) loadStation(ctx context.Context, stationID string) (*model.Station, bool, error) {
	s, err := o.deps.Repository.Station(ctx, stationID)
	if err != nil {
		return nil, false, err
	}

	data, ok, err := o.deps.Snapshots.Get(ctx, stationID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return s, false, nil
	}
	prev, err := model.DecodeStation(data)
	if err != nil {
		o.logger.Warn().Err(err).Str("station", stationID).Msg("discarding unreadable snapshot")
		return s, false, nil
	}

	n := s.AdoptAssignedMedia(prev)
	o.logger.Debug().Str("station", stationID).Int("media_ids", n).Msg("checkpoint applied")
	return s, true, nil
}

// groupByPlayer orders players with cached media first, in first-seen
// order, then players with only deletions.
func groupByPlayer(station *model.Station, cached []model.CachedMedia, deletions []model.PendingDeletion) ([]*playerQueue, error) {
	var order []*playerQueue
	byID := make(map[string]*playerQueue)

	queue := func(playerID string) (*playerQueue, error) {
		if q, ok := byID[playerID]; ok {
			return q, nil
		}
		p, ok := station.Player(playerID)
		if !ok {
			return nil, fmt.Errorf("%w: %s in station %s", ErrUnknownPlayer, playerID, station.ID)
		}
		q := &playerQueue{player: p}
		byID[playerID] = q
		order = append(order, q)
		return q, nil
	}

	for _, m := range cached {
		if c := station.Content(m.ContentID); c == nil || c.Media == nil {
			return nil, fmt.Errorf("%w: %s in station %s", ErrUnknownContent, m.ContentID, station.ID)
		}
		q, err := queue(m.PlayerID)
		if err != nil {
			return nil, err
		}
		q.media = append(q.media, m)
	}
	for _, d := range deletions {
		q, err := queue(d.PlayerID)
		if err != nil {
			return nil, err
		}
		q.deletions = append(q.deletions, d)
	}
	return order, nil
}

// connect runs the health pipeline and reports its outcome.
func (o *Orchestrator) connect(ctx context.Context, r *run, scope events.Scope, p model.Player) bool {
	r.reportPlayer(scope, events.ProgressConnecting, p, events.SyncProgress{})

	res := o.deps.Health.Run(ctx, p.Address, r.role, func(sp health.StepProgress) {
		r.reportPlayer(scope, events.ProgressStep, p, events.SyncProgress{
			Step:      string(sp.Step),
			StepIndex: sp.Index,
			StepTotal: sp.Total,
			Status:    sp.Status.String(),
			Success:   sp.Passed,
		})
	})

	if !res.Online() {
		r.reportPlayer(scope, events.ProgressConnectionFailed, p, events.SyncProgress{
			Status:       res.Status.String(),
			Registration: string(res.Registration),
		})
		r.logger.Warn().Str("player", p.ID).Str("status", res.Status.String()).Msg("player unreachable")
		return false
	}
	if res.Blocked() {
		r.reportPlayer(scope, events.ProgressBlocked, p, events.SyncProgress{
			Status:       res.Status.String(),
			Registration: string(res.Registration),
		})
		r.logger.Warn().Str("player", p.ID).Msg("player is held by another controller")
		return false
	}

	r.reportPlayer(scope, events.ProgressConnected, p, events.SyncProgress{
		Status:       res.Status.String(),
		Registration: string(res.Registration),
	})
	return true
}

// syncPlayer uploads and deletes for one player, one operation at a time.
// A failed operation does not stop the rest of the queue.
func (o *Orchestrator) syncPlayer(ctx context.Context, r *run, scope events.Scope, q *playerQueue) bool {
	p := q.player
	if !o.connect(ctx, r, scope, p) {
		return false
	}

	ok := true
	for _, entry := range q.media {
		if !o.upload(ctx, r, scope, p, entry) {
			ok = false
		}
	}
	for _, d := range q.deletions {
		if !o.delete(ctx, r, scope, p, d) {
			ok = false
		}
	}
	return ok
}

func (o *Orchestrator) upload(ctx context.Context, r *run, scope events.Scope, p model.Player, entry model.CachedMedia) bool {
	content := r.station.Content(entry.ContentID)
	media := content.Media

	r.reportPlayer(scope, events.ProgressMediaSendStart, p, events.SyncProgress{ContentID: entry.ContentID})

	data, err := o.deps.Files.Read(r.stationID, entry.ContentID, entry.Extension)
	if err != nil {
		r.logger.Error().Err(err).Str("content", entry.ContentID).Msg("cached media unavailable")
		r.reportPlayer(scope, events.ProgressMediaSendFailure, p, events.SyncProgress{ContentID: entry.ContentID})
		return false
	}

	id, ok := o.deps.Client.PutMedia(ctx, p.Address, media.Kind, data, func(sent, total int) {
		r.reportPlayer(scope, events.ProgressMediaSendProgress, p, events.SyncProgress{
			ContentID: entry.ContentID,
			Sent:      sent,
			Total:     total,
		})
	})
	if !ok {
		r.reportPlayer(scope, events.ProgressMediaSendFailure, p, events.SyncProgress{ContentID: entry.ContentID})
		return false
	}

	media.ID = id
	if err := o.deps.Repository.RemoveCachedMedia(ctx, r.stationID, entry); err != nil {
		r.logger.Error().Err(err).Str("content", entry.ContentID).Msg("uploaded media stays queued")
		r.reportPlayer(scope, events.ProgressMediaSendFailure, p, events.SyncProgress{ContentID: entry.ContentID, MediaID: id})
		return false
	}
	if err := o.deps.Files.Remove(r.stationID, entry.ContentID, entry.Extension); err != nil {
		r.logger.Warn().Err(err).Str("content", entry.ContentID).Msg("failed to drop cached file")
	}
	if o.deps.Recorder != nil {
		o.deps.Recorder.AddMediaBytes(len(data))
	}

	r.reportPlayer(scope, events.ProgressMediaSendSuccess, p, events.SyncProgress{
		ContentID: entry.ContentID,
		MediaID:   id,
		Success:   true,
	})
	return true
}

func (o *Orchestrator) delete(ctx context.Context, r *run, scope events.Scope, p model.Player, d model.PendingDeletion) bool {
	r.reportPlayer(scope, events.ProgressDeleteStart, p, events.SyncProgress{MediaID: d.MediaID})

	if !o.deps.Client.DeleteMedia(ctx, p.Address, d.MediaID) {
		r.reportPlayer(scope, events.ProgressDeleteFailure, p, events.SyncProgress{MediaID: d.MediaID})
		return false
	}
	if err := o.deps.Repository.RemovePendingDeletion(ctx, r.stationID, d); err != nil {
		r.logger.Error().Err(err).Int("media", d.MediaID).Msg("deleted media stays queued")
		r.reportPlayer(scope, events.ProgressDeleteFailure, p, events.SyncProgress{MediaID: d.MediaID})
		return false
	}

	r.reportPlayer(scope, events.ProgressDeleteSuccess, p, events.SyncProgress{MediaID: d.MediaID, Success: true})
	return true
}

// checkpoint persists the working station so assigned ids survive a crash,
// and records those ids in the registry.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run) error {
	data, err := r.station.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := o.deps.Snapshots.Put(ctx, r.stationID, data); err != nil {
		return err
	}

	current, n, err := o.mergeAssigned(ctx, r)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := o.deps.Repository.SaveStation(ctx, current); err != nil {
			return err
		}
	}
	r.logger.Debug().Int("media_ids", n).Msg("checkpoint saved")
	return nil
}

// mergeAssigned re-reads the registry, which may have been edited while the
// run was in progress, and applies the ids assigned by this run.
func (o *Orchestrator) mergeAssigned(ctx context.Context, r *run) (*model.Station, int, error) {
	current, err := o.deps.Repository.Station(ctx, r.stationID)
	if err != nil {
		return nil, 0, err
	}
	return current, current.AdoptAssignedMedia(r.station), nil
}

// handOff sends the manifest to the controller and clears the snapshot.
func (o *Orchestrator) handOff(ctx context.Context, r *run, controller model.Player) (bool, error) {
	if !o.connect(ctx, r, events.ScopeController, controller) {
		return false, nil
	}

	current, _, err := o.mergeAssigned(ctx, r)
	if err != nil {
		return false, err
	}
	manifest, err := current.Manifest()
	if err != nil {
		return false, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if !o.deps.Client.SendContents(ctx, controller.Address, string(manifest)) {
		r.reportPlayer(events.ScopeController, events.ProgressManifestFailed, controller, events.SyncProgress{})
		return false, nil
	}
	r.reportPlayer(events.ScopeController, events.ProgressManifestSent, controller, events.SyncProgress{Success: true})

	if err := o.deps.Repository.SaveStation(ctx, current); err != nil {
		return false, err
	}
	if err := o.deps.Snapshots.Delete(ctx, r.stationID); err != nil {
		return false, err
	}
	return true, nil
}
