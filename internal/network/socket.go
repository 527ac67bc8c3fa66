// Package network implements the player transport: websocket sockets, the
// per-address connection handler, ICMP probing, and the request correlator
// that turns commands into awaited replies.
package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultChunkSize is the outbound chunk size; 32 MiB measured fastest against players.
const DefaultChunkSize = 32 << 20

// chunkCountSize is the size of the little-endian chunk count prefix.
const chunkCountSize = 2

const maxChunks = 1<<16 - 1

var (
	// ErrSocketClosed is returned when writing to a closed socket.
	ErrSocketClosed = errors.New("socket closed")
	// ErrPayloadTooLarge is returned when a payload needs more chunks than the prefix can count.
	ErrPayloadTooLarge = errors.New("payload needs too many chunks")
)

// SocketOptions tunes one Socket.
type SocketOptions struct {
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	WriteTimeout   time.Duration
	ChunkSize      int
}

// ProgressFunc reports outbound progress after each chunk.
type ProgressFunc func(sent, total int)

// Socket owns one full-duplex websocket connection to a player.
type Socket struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	conn   *websocket.Conn
	addr   string
	opts   SocketOptions
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
	done   chan struct{}
}

// Dial opens a websocket to url. A handshake that does not finish within
// opts.ConnectTimeout is aborted.
func Dial(ctx context.Context, addr, url string, opts SocketOptions) (*Socket, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
		ReadBufferSize:   65536,
		WriteBufferSize:  65536,
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	now := time.Now()
	return &Socket{
		conn:         conn,
		addr:         addr,
		opts:         opts,
		connectedAt:  now,
		lastActivity: now,
		done:         make(chan struct{}),
		logger:       log.With().Str("component", "socket").Str("peer", addr).Logger(),
	}, nil
}

// Run reads messages until the connection ends, handing each normalized
// message to onData. onClose runs exactly once when the loop exits, before
// Done is closed. Close must not be called from onData.
func (s *Socket) Run(onData func([]byte), onClose func()) {
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.conn.Close()
		if onClose != nil {
			onClose()
		}
		close(s.done)
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("connection lost")
			} else {
				s.logger.Debug().Err(err).Msg("read loop finished")
			}
			return
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		payload, err := normalizeInbound(msgType, data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed text message")
			continue
		}
		if onData != nil {
			onData(payload)
		}
	}
}

// Send writes payload as a chunk-count prefix followed by sequential chunks.
// Each chunk is written before the next one starts.
func (s *Socket) Send(ctx context.Context, payload []byte, progress ProgressFunc) error {
	chunks, err := splitChunks(payload, s.opts.ChunkSize)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.IsClosed() {
		return ErrSocketClosed
	}

	total := chunkCountSize + len(payload)
	sent := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.opts.WriteTimeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("failed to write chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sent += len(chunk)
		if progress != nil {
			progress(sent, total)
		}
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// Close performs the websocket close handshake and forces the connection
// shut if the peer does not answer within CloseTimeout.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// WriteControl may run concurrently with an in-flight Send.
	deadline := time.Now().Add(s.opts.CloseTimeout)
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil {
		s.logger.Debug().Err(err).Msg("close frame not sent")
	}

	var closeErr error
	select {
	case <-s.done:
	case <-time.After(s.opts.CloseTimeout):
		s.logger.Warn().Dur("timeout", s.opts.CloseTimeout).Msg("close handshake timed out, forcing close")
		closeErr = s.conn.Close()
		<-s.done
	}

	s.logger.Info().Msg("connection closed")
	return closeErr
}

// Done is closed once the read loop has exited.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// IsClosed returns whether the socket has been closed.
func (s *Socket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActivity returns the time of the last read/write activity.
func (s *Socket) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (s *Socket) ConnectedAt() time.Time {
	return s.connectedAt
}

// chunkCount is ceil(payloadLen/chunkSize), at least one.
func chunkCount(payloadLen, chunkSize int) int {
	n := (payloadLen + chunkSize - 1) / chunkSize
	if n < 1 {
		n = 1
	}
	return n
}

// splitChunks prefixes payload with its chunk count and cuts the result at
// chunkSize boundaries. The count covers the payload only, so the last chunk
// carries the remainder and can be up to chunkSize+1 bytes long.
func splitChunks(payload []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	count := chunkCount(len(payload), chunkSize)
	if count > maxChunks {
		return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, count)
	}

	buf := make([]byte, chunkCountSize+len(payload))
	binary.LittleEndian.PutUint16(buf, uint16(count))
	copy(buf[chunkCountSize:], payload)

	chunks := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == count-1 {
			end = len(buf)
		}
		chunks[i] = buf[start:end]
	}
	return chunks, nil
}

// normalizeInbound converts a websocket message into bytes. Text messages
// carry comma-separated decimal byte values.
func normalizeInbound(msgType int, data []byte) ([]byte, error) {
	switch msgType {
	case websocket.BinaryMessage:
		return data, nil
	case websocket.TextMessage:
		return parseByteList(string(data))
	default:
		panic(fmt.Sprintf("network: unexpected websocket message type %d", msgType))
	}
}

func parseByteList(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte{}, nil
	}
	fields := strings.Split(s, ",")
	out := make([]byte, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte value %q at index %d: %w", f, i, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
