package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned when no socket is registered for an address.
var ErrNotConnected = errors.New("not connected")

// ConnectionObserver receives lifecycle and data notifications for sockets
// opened through a ConnectionHandler.
type ConnectionObserver interface {
	OnOpen(addr string)
	OnError(addr string, err error)
	OnClose(addr string)
	OnData(addr string, data []byte)
}

// Pinger checks OS-level reachability of an address.
type Pinger interface {
	Ping(ctx context.Context, addr string) (bool, error)
}

// ConnectionGauge tracks the number of open sockets.
type ConnectionGauge interface {
	SetOpenConnections(n int)
}

// HandlerOptions configures a ConnectionHandler.
type HandlerOptions struct {
	// Port is appended to addresses that do not carry one.
	Port   int
	Socket SocketOptions
}

// ConnectionHandler owns the open sockets keyed by peer address.
// One entry exists per address; it is created on a successful connect and
// removed when the socket closes, locally or remotely.
type ConnectionHandler struct {
	mu      sync.RWMutex
	conns   map[string]*Socket
	dialing map[string]chan struct{}

	opts   HandlerOptions
	pinger Pinger
	gauge  ConnectionGauge
	logger zerolog.Logger
}

// NewConnectionHandler creates a handler. pinger may be nil, in which case
// every address is reported reachable.
func NewConnectionHandler(opts HandlerOptions, pinger Pinger, gauge ConnectionGauge) *ConnectionHandler {
	if opts.Socket.CloseTimeout <= 0 {
		opts.Socket.CloseTimeout = 3 * time.Second
	}
	if opts.Socket.ConnectTimeout <= 0 {
		opts.Socket.ConnectTimeout = 3 * time.Second
	}
	return &ConnectionHandler{
		conns:   make(map[string]*Socket),
		dialing: make(map[string]chan struct{}),
		opts:    opts,
		pinger:  pinger,
		gauge:   gauge,
		logger:  log.With().Str("component", "connection_handler").Logger(),
	}
}

// CreateConnection opens a socket to addr and registers it. If a socket for
// addr already exists the call is a logged no-op and no observer method is
// invoked. If addr is being dialed, the call waits for that dial and reports
// its outcome instead of opening a second socket.
func (h *ConnectionHandler) CreateConnection(ctx context.Context, addr string, obs ConnectionObserver) error {
	h.mu.Lock()
	if _, ok := h.conns[addr]; ok {
		h.mu.Unlock()
		h.logger.Debug().Str("peer", addr).Msg("connection already exists")
		return nil
	}
	if wait, ok := h.dialing[addr]; ok {
		h.mu.Unlock()
		h.logger.Debug().Str("peer", addr).Msg("waiting for connection being opened")
		return h.awaitDial(ctx, addr, wait)
	}
	dialed := make(chan struct{})
	h.dialing[addr] = dialed
	h.mu.Unlock()

	sock, err := Dial(ctx, addr, h.url(addr), h.opts.Socket)

	h.mu.Lock()
	delete(h.dialing, addr)
	if err == nil {
		h.conns[addr] = sock
	}
	count := len(h.conns)
	h.mu.Unlock()
	close(dialed)

	if err != nil {
		h.logger.Warn().Err(err).Str("peer", addr).Msg("connection failed")
		obs.OnError(addr, err)
		return err
	}

	h.updateGauge(count)
	h.logger.Info().Str("peer", addr).Msg("connection registered")
	obs.OnOpen(addr)

	go sock.Run(
		func(data []byte) { obs.OnData(addr, data) },
		func() {
			h.unregister(addr, sock)
			obs.OnClose(addr)
		},
	)
	return nil
}

// awaitDial blocks until the dial tracked by wait finishes.
func (h *ConnectionHandler) awaitDial(ctx context.Context, addr string, wait <-chan struct{}) error {
	select {
	case <-wait:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !h.HasConnection(addr) {
		return fmt.Errorf("%w: concurrent dial to %s failed", ErrNotConnected, addr)
	}
	return nil
}

// unregister removes sock if it is still the registered socket for addr.
func (h *ConnectionHandler) unregister(addr string, sock *Socket) {
	h.mu.Lock()
	if h.conns[addr] == sock {
		delete(h.conns, addr)
	}
	count := len(h.conns)
	h.mu.Unlock()

	h.updateGauge(count)
	h.logger.Debug().Str("peer", addr).Msg("connection unregistered")
}

// HasConnection reports whether a socket is registered for addr.
func (h *ConnectionHandler) HasConnection(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[addr]
	return ok
}

// SendData sends bytes to addr. It returns false, after logging, when no
// socket exists or the write fails.
func (h *ConnectionHandler) SendData(ctx context.Context, addr string, data []byte) bool {
	return h.SendDataProgress(ctx, addr, data, nil)
}

// SendDataProgress is SendData with per-chunk progress reporting.
func (h *ConnectionHandler) SendDataProgress(ctx context.Context, addr string, data []byte, progress ProgressFunc) bool {
	sock, ok := h.get(addr)
	if !ok {
		h.logger.Error().Err(ErrNotConnected).Str("peer", addr).Msg("cannot send data")
		return false
	}
	if err := sock.Send(ctx, data, progress); err != nil {
		h.logger.Error().Err(err).Str("peer", addr).Int("bytes", len(data)).Msg("send failed")
		return false
	}
	return true
}

// CloseConnection closes the socket for addr. It returns false, after
// logging, when no socket exists.
func (h *ConnectionHandler) CloseConnection(addr string) bool {
	sock, ok := h.get(addr)
	if !ok {
		h.logger.Error().Err(ErrNotConnected).Str("peer", addr).Msg("cannot close connection")
		return false
	}
	if err := sock.Close(); err != nil {
		h.logger.Warn().Err(err).Str("peer", addr).Msg("forced close returned error")
	}
	return true
}

// Ping probes addr through the injected ICMP pinger.
func (h *ConnectionHandler) Ping(ctx context.Context, addr string) (bool, error) {
	if h.pinger == nil {
		return true, nil
	}
	host := addr
	if hst, _, err := net.SplitHostPort(addr); err == nil {
		host = hst
	}
	return h.pinger.Ping(ctx, host)
}

// Addresses returns the addresses with an open socket.
func (h *ConnectionHandler) Addresses() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	addrs := make([]string, 0, len(h.conns))
	for addr := range h.conns {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Count returns the number of open sockets.
func (h *ConnectionHandler) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// LastActivity returns the last read/write time of the socket for addr.
func (h *ConnectionHandler) LastActivity(addr string) (time.Time, bool) {
	sock, ok := h.get(addr)
	if !ok {
		return time.Time{}, false
	}
	return sock.LastActivity(), true
}

// CloseAll closes every open socket.
func (h *ConnectionHandler) CloseAll() {
	for _, addr := range h.Addresses() {
		h.CloseConnection(addr)
	}
	log.Info().Msg("all connections closed")
}

func (h *ConnectionHandler) get(addr string) (*Socket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sock, ok := h.conns[addr]
	return sock, ok
}

// url builds the websocket URL for addr, adding the player port when addr
// has none.
func (h *ConnectionHandler) url(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return fmt.Sprintf("ws://%s/", addr)
	}
	return fmt.Sprintf("ws://%s/", net.JoinHostPort(addr, fmt.Sprint(h.opts.Port)))
}

func (h *ConnectionHandler) updateGauge(n int) {
	if h.gauge != nil {
		h.gauge.SetOpenConnections(n)
	}
}
