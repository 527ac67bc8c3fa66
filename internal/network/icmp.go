package network

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// protocolICMP is the IANA protocol number for ICMP over IPv4.
const protocolICMP = 1

// ICMPPinger sends one ICMP echo request and waits for the matching reply.
// It uses unprivileged datagram sockets ("udp4"), which Linux allows when
// net.ipv4.ping_group_range covers the process group.
type ICMPPinger struct {
	timeout time.Duration
	seq     atomic.Uint32
	logger  zerolog.Logger
}

// NewICMPPinger creates a pinger with the given reply timeout.
func NewICMPPinger(timeout time.Duration) *ICMPPinger {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ICMPPinger{
		timeout: timeout,
		logger:  log.With().Str("component", "icmp").Logger(),
	}
}

// Ping returns true when host answers an echo request before the timeout.
// Socket or resolution failures are returned as errors.
func (p *ICMPPinger) Ping(ctx context.Context, host string) (bool, error) {
	ipAddr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false, fmt.Errorf("failed to open icmp socket: %w", err)
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: []byte("stationsync"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("failed to marshal echo request: %w", err)
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: ipAddr.IP}); err != nil {
		return false, fmt.Errorf("failed to send echo request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.logger.Debug().Str("host", host).Msg("echo reply timed out")
				return false, nil
			}
			return false, fmt.Errorf("failed to read echo reply: %w", err)
		}

		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// The kernel rewrites the echo id on datagram sockets, so match on
		// sequence and source only.
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.Seq == seq {
			if udp, ok := peer.(*net.UDPAddr); ok && udp.IP.Equal(ipAddr.IP) {
				return true, nil
			}
		}
	}
}
