package network

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/protocol"
)

// Request outcomes reported to the RequestRecorder.
const (
	OutcomeReply      = "reply"
	OutcomeTimeout    = "timeout"
	OutcomeClosed     = "closed"
	OutcomeSendFailed = "send_failed"
	OutcomeCancelled  = "cancelled"
	OutcomeSent       = "sent"
)

// RequestRecorder collects request statistics.
type RequestRecorder interface {
	ObserveRequest(command, outcome string, elapsed time.Duration)
	IncDecodeErrors()
}

// ServiceOptions holds request timeouts.
type ServiceOptions struct {
	RequestTimeout time.Duration
	MediaTimeout   time.Duration
}

// pendingRequest is the settlement slot of one in-flight request.
type pendingRequest struct {
	mu      sync.Mutex
	settled bool
	outcome string
	timer   *time.Timer
	reply   chan any
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{reply: make(chan any, 1)}
}

// Settle completes the request with a routed reply.
func (p *pendingRequest) Settle(v any) {
	p.settle(v, OutcomeReply)
}

// settle delivers v once and stops the timer. It reports whether this call
// was the one that settled the request.
func (p *pendingRequest) settle(v any, outcome string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled {
		return false
	}
	p.settled = true
	p.outcome = outcome
	if p.timer != nil {
		p.timer.Stop()
	}
	p.reply <- v
	return true
}

// arm starts the timeout unless the request already settled.
func (p *pendingRequest) arm(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled {
		return
	}
	p.timer = time.AfterFunc(d, func() { p.settle(nil, OutcomeTimeout) })
}

func (p *pendingRequest) wait(ctx context.Context) (any, string) {
	select {
	case v := <-p.reply:
		return v, p.result()
	case <-ctx.Done():
		p.settle(nil, OutcomeCancelled)
		v := <-p.reply
		return v, p.result()
	}
}

func (p *pendingRequest) result() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// NetworkService opens player connections, sends commands, and waits for
// the correlated reply of each request.
//
// Requests to one address are serialized: a second request waits until the
// first settles, so each peer has at most one pending request. Network
// failures never surface as errors; every request yields its typed default
// on timeout, send failure, or connection loss.
type NetworkService struct {
	handler  *ConnectionHandler
	router   *protocol.Router
	opts     ServiceOptions
	recorder RequestRecorder
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	locks   map[string]chan struct{}

	hooksMu   sync.RWMutex
	onBlock   func(addr string)
	onUnblock func(addr string)
}

// NewNetworkService creates the correlator on top of handler. recorder may be nil.
func NewNetworkService(handler *ConnectionHandler, opts ServiceOptions, recorder RequestRecorder) *NetworkService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Second
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = 240 * time.Second
	}

	s := &NetworkService{
		handler:  handler,
		opts:     opts,
		recorder: recorder,
		pending:  make(map[string]*pendingRequest),
		locks:    make(map[string]chan struct{}),
		logger:   log.With().Str("component", "network_service").Logger(),
	}
	s.router = protocol.NewRouter(protocol.RouterHooks{
		OnPing:    s.answerPing,
		OnBlock:   s.blockReceived,
		OnUnblock: s.unblockReceived,
	})
	return s
}

// OnBlockReceived sets the hook called when a player rejects this controller.
func (s *NetworkService) OnBlockReceived(fn func(addr string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onBlock = fn
}

// OnUnblockReceived sets the hook called when a player accepts this controller again.
func (s *NetworkService) OnUnblockReceived(fn func(addr string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onUnblock = fn
}

// OpenConnection connects to addr. It returns true at once when already connected.
func (s *NetworkService) OpenConnection(ctx context.Context, addr string) bool {
	if s.handler.HasConnection(addr) {
		return true
	}
	if err := s.handler.CreateConnection(ctx, addr, s); err != nil {
		return false
	}
	return s.handler.HasConnection(addr)
}

// HasConnection reports whether addr has an open socket.
func (s *NetworkService) HasConnection(addr string) bool {
	return s.handler.HasConnection(addr)
}

// CloseConnection closes the socket to addr.
func (s *NetworkService) CloseConnection(addr string) bool {
	return s.handler.CloseConnection(addr)
}

// IcmpPing probes OS-level reachability of addr.
func (s *NetworkService) IcmpPing(ctx context.Context, addr string) (bool, error) {
	return s.handler.Ping(ctx, addr)
}

// Ping sends network/ping and waits for network/pong.
func (s *NetworkService) Ping(ctx context.Context, addr string) bool {
	v, _ := await(ctx, s, addr, "network/ping", protocol.BuildPing(), s.opts.RequestTimeout, false, nil)
	return v
}

// Register performs the registration handshake for role.
func (s *NetworkService) Register(ctx context.Context, addr string, role protocol.Role) protocol.Registration {
	v, _ := await(ctx, s, addr, "network/register", protocol.BuildRegister(role),
		s.opts.RequestTimeout, protocol.RegistrationNoReply, nil)
	return v
}

// IsRegistrationPossible asks whether a player would accept a registration.
func (s *NetworkService) IsRegistrationPossible(ctx context.Context, addr string) bool {
	v, _ := await(ctx, s, addr, "network/isRegistrationPossible", protocol.BuildIsRegistrationPossible(),
		s.opts.RequestTimeout, false, nil)
	return v
}

// FetchContents requests the manifest a player currently holds.
func (s *NetworkService) FetchContents(ctx context.Context, addr string) (string, bool) {
	return await(ctx, s, addr, "contents/get", protocol.BuildContentsGet(), s.opts.RequestTimeout, "", nil)
}

// PutMedia uploads one media file and returns the id the player assigned.
func (s *NetworkService) PutMedia(ctx context.Context, addr string, kind protocol.MediaKind, file []byte, progress ProgressFunc) (int, bool) {
	return await(ctx, s, addr, "media/put", protocol.BuildMediaPut(kind, file), s.opts.MediaTimeout, 0, progress)
}

// DeleteMedia asks a player to delete a media id. The player does not
// answer; a completed send counts as acknowledged.
func (s *NetworkService) DeleteMedia(ctx context.Context, addr string, mediaID int) bool {
	return s.send(ctx, addr, "media/delete", protocol.BuildMediaDelete(mediaID))
}

// SendContents transmits a manifest to a player.
func (s *NetworkService) SendContents(ctx context.Context, addr, manifestJSON string) bool {
	return s.send(ctx, addr, "contents/put", protocol.BuildContentsPut(manifestJSON))
}

// MediaControl sends a playback command.
func (s *NetworkService) MediaControl(ctx context.Context, addr, command string, args ...string) bool {
	frame, err := protocol.BuildMediaControl(command, args...)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", addr).Msg("cannot encode media control")
		return false
	}
	return s.send(ctx, addr, "media/control", frame)
}

// Light sends a light preset command.
func (s *NetworkService) Light(ctx context.Context, addr, preset string, args ...string) bool {
	frame, err := protocol.BuildLight(preset, args...)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", addr).Msg("cannot encode light command")
		return false
	}
	return s.send(ctx, addr, "light/"+preset, frame)
}

// Disconnect tells the player to close and then closes the local socket.
func (s *NetworkService) Disconnect(ctx context.Context, addr string) bool {
	if !s.handler.HasConnection(addr) {
		return false
	}
	s.send(ctx, addr, "network/disconnect", protocol.BuildDisconnect())
	return s.handler.CloseConnection(addr)
}

// ---- ConnectionObserver ----

// OnOpen implements ConnectionObserver.
func (s *NetworkService) OnOpen(addr string) {
	s.logger.Info().Str("peer", addr).Msg("player connected")
}

// OnError implements ConnectionObserver.
func (s *NetworkService) OnError(addr string, err error) {
	s.logger.Warn().Err(err).Str("peer", addr).Msg("player connection failed")
}

// OnClose implements ConnectionObserver. A request pending on addr settles with nil.
func (s *NetworkService) OnClose(addr string) {
	s.mu.Lock()
	p := s.pending[addr]
	delete(s.pending, addr)
	s.mu.Unlock()

	if p != nil {
		p.settle(nil, OutcomeClosed)
	}
	s.logger.Info().Str("peer", addr).Msg("player disconnected")
}

// OnData implements ConnectionObserver.
func (s *NetworkService) OnData(addr string, data []byte) {
	cmd := protocol.Decode(data)
	if cmd.IsError() && s.recorder != nil {
		s.recorder.IncDecodeErrors()
	}

	var settler protocol.Settler
	s.mu.Lock()
	if p, ok := s.pending[addr]; ok {
		settler = p
	}
	s.mu.Unlock()

	s.router.Route(addr, cmd, settler)
}

// ---- internals ----

// await sends frame to addr and waits for the correlated reply. The second
// result is false when def was returned because no usable reply arrived.
func await[T any](ctx context.Context, s *NetworkService, addr, command string, frame []byte, timeout time.Duration, def T, progress ProgressFunc) (T, bool) {
	start := time.Now()

	release, err := s.acquire(ctx, addr)
	if err != nil {
		s.observe(command, OutcomeCancelled, start)
		return def, false
	}
	defer release()

	p := newPendingRequest()
	s.mu.Lock()
	s.pending[addr] = p
	s.mu.Unlock()
	defer s.clearPending(addr, p)

	if !s.handler.SendDataProgress(ctx, addr, frame, progress) {
		p.settle(nil, OutcomeSendFailed)
		s.observe(command, OutcomeSendFailed, start)
		return def, false
	}
	p.arm(timeout)

	raw, outcome := p.wait(ctx)
	s.observe(command, outcome, start)

	v, ok := raw.(T)
	if !ok {
		if outcome == OutcomeTimeout {
			s.logger.Warn().Str("peer", addr).Str("command", command).Dur("timeout", timeout).Msg("request timed out")
		}
		return def, false
	}
	return v, true
}

// send writes a command that has no reply.
func (s *NetworkService) send(ctx context.Context, addr, command string, frame []byte) bool {
	start := time.Now()

	release, err := s.acquire(ctx, addr)
	if err != nil {
		s.observe(command, OutcomeCancelled, start)
		return false
	}
	defer release()

	if !s.handler.SendData(ctx, addr, frame) {
		s.observe(command, OutcomeSendFailed, start)
		return false
	}
	s.observe(command, OutcomeSent, start)
	return true
}

// acquire takes the per-address request slot.
func (s *NetworkService) acquire(ctx context.Context, addr string) (func(), error) {
	s.mu.Lock()
	slot, ok := s.locks[addr]
	if !ok {
		slot = make(chan struct{}, 1)
		s.locks[addr] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *NetworkService) clearPending(addr string, p *pendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[addr] == p {
		delete(s.pending, addr)
	}
}

func (s *NetworkService) observe(command, outcome string, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveRequest(command, outcome, time.Since(start))
	}
}

// answerPing replies to an unsolicited ping without taking the request slot.
func (s *NetworkService) answerPing(addr string) {
	go func() {
		if !s.handler.SendData(context.Background(), addr, protocol.BuildPong()) {
			s.logger.Warn().Str("peer", addr).Msg("failed to answer ping")
		}
	}()
}

func (s *NetworkService) blockReceived(addr string) {
	s.hooksMu.RLock()
	fn := s.onBlock
	s.hooksMu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}

func (s *NetworkService) unblockReceived(addr string) {
	s.hooksMu.RLock()
	fn := s.onUnblock
	s.hooksMu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}
