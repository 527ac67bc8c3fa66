package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
)

// maxConcurrentChecks bounds how many players are probed at once.
const maxConcurrentChecks = 4

// PlayerSource lists the players known to the fleet.
type PlayerSource interface {
	Players(ctx context.Context) ([]model.Player, error)
}

// ConnectionCounter reports open player sockets.
type ConnectionCounter interface {
	Count() int
}

// PlayerHealth is the last known pipeline result for one address.
type PlayerHealth struct {
	Address      string                `json:"address"`
	PlayerID     string                `json:"player_id,omitempty"`
	Name         string                `json:"name,omitempty"`
	Status       Status                `json:"status"`
	Registration protocol.Registration `json:"registration,omitempty"`
	CheckedAt    time.Time             `json:"checked_at"`
}

// Monitor periodically runs the pipeline against every known player and
// keeps the last result per address.
type Monitor struct {
	pipeline *Pipeline
	players  PlayerSource
	eventBus *events.EventBus
	conns    ConnectionCounter
	interval time.Duration

	mu   sync.RWMutex
	last map[string]PlayerHealth

	logger zerolog.Logger
}

// NewMonitor creates a monitor. conns may be nil.
func NewMonitor(pipeline *Pipeline, players PlayerSource, eventBus *events.EventBus, conns ConnectionCounter, interval time.Duration) *Monitor {
	return &Monitor{
		pipeline: pipeline,
		players:  players,
		eventBus: eventBus,
		conns:    conns,
		interval: interval,
		last:     make(map[string]PlayerHealth),
		logger:   log.With().Str("component", "health_monitor").Logger(),
	}
}

// Start runs a fleet check immediately and then on every tick until ctx is
// cancelled. A non-positive interval disables the loop.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info().Msg("periodic health checks disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("health monitor started")
	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every known player without registering, then publishes a heartbeat.
func (m *Monitor) CheckAll(ctx context.Context) {
	players, err := m.players.Players(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list players")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for _, p := range players {
		p := p
		g.Go(func() error {
			m.check(gctx, p, protocol.RoleNone)
			return nil
		})
	}
	g.Wait()

	online := 0
	for _, h := range m.Statuses() {
		if h.Status == Online {
			online++
		}
	}
	hb := events.HeartbeatPayload{
		Players:   len(players),
		Online:    online,
		Timestamp: time.Now(),
	}
	if m.conns != nil {
		hb.Connections = m.conns.Count()
	}
	m.emit(ctx, events.Event{Type: events.EventHeartbeat, Source: "health_monitor", Payload: hb})
}

// Check runs the pipeline once for addr with role and records the result.
func (m *Monitor) Check(ctx context.Context, addr string, role protocol.Role) Result {
	return m.check(ctx, model.Player{Address: addr}, role)
}

func (m *Monitor) check(ctx context.Context, p model.Player, role protocol.Role) Result {
	res := m.pipeline.Run(ctx, p.Address, role, nil)

	h := PlayerHealth{
		Address:      p.Address,
		PlayerID:     p.ID,
		Name:         p.Name,
		Status:       res.Status,
		Registration: res.Registration,
		CheckedAt:    time.Now(),
	}

	m.mu.Lock()
	if prev, ok := m.last[p.Address]; ok {
		if h.PlayerID == "" {
			h.PlayerID, h.Name = prev.PlayerID, prev.Name
		}
		if prev.Status != h.Status {
			m.logger.Info().
				Str("peer", p.Address).
				Str("from", prev.Status.String()).
				Str("to", h.Status.String()).
				Msg("player status changed")
		}
	}
	m.last[p.Address] = h
	m.mu.Unlock()

	m.emit(ctx, events.Event{
		Type:   events.EventPlayerStatus,
		Source: "health_monitor",
		Payload: events.PlayerStatusPayload{
			Address:      h.Address,
			PlayerID:     h.PlayerID,
			Status:       h.Status.String(),
			Registration: string(h.Registration),
			CheckedAt:    h.CheckedAt,
		},
	})
	return res
}

// Status returns the last result for addr.
func (m *Monitor) Status(addr string) (PlayerHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.last[addr]
	return h, ok
}

// Statuses returns the last results ordered by address.
func (m *Monitor) Statuses() []PlayerHealth {
	m.mu.RLock()
	out := make([]PlayerHealth, 0, len(m.last))
	for _, h := range m.last {
		out = append(out, h)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (m *Monitor) emit(ctx context.Context, e events.Event) {
	if m.eventBus != nil {
		m.eventBus.Emit(ctx, e)
	}
}
