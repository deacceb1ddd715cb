//go:build linux

package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// ErrSocketClosed indicates an operation was attempted on a closed
// UDPTransport.
var ErrSocketClosed = errors.New("radio: socket closed")

// UDPTransport implements dfu.Transport by broadcasting frames over a UDP
// socket bound to the mesh's broadcast domain. It is the concrete
// collaborator the daemon wires into a dfu.Coordinator; internal/dfu's
// tests use an in-memory fake instead.
type UDPTransport struct {
	conn          *net.UDPConn
	broadcastAddr *net.UDPAddr
	logger        *slog.Logger

	mu      sync.Mutex
	closed  bool
	abortCh chan struct{}
}

// NewUDPTransport binds a UDP socket at localAddr:port with SO_BROADCAST
// enabled, and prepares to broadcast to the given subnet's broadcast
// address on the same port.
func NewUDPTransport(localAddr netip.Addr, port uint16, broadcastAddr netip.Addr, logger *slog.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		return setBroadcastOpts(c)
	}}

	laddr := netip.AddrPortFrom(localAddr, port)
	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", laddr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected conn type %T", laddr, pc)
	}

	return &UDPTransport{
		conn:          conn,
		broadcastAddr: net.UDPAddrFromAddrPort(netip.AddrPortFrom(broadcastAddr, port)),
		logger:        logger.With(slog.String("component", "radio.transport")),
	}, nil
}

// Broadcast implements dfu.Transport: it writes frame to the broadcast
// address repeats times (or indefinitely when repeats == dfu.RepeatInfinite)
// at interval, stopping early on ctx cancellation or a concurrent Abort.
func (t *UDPTransport) Broadcast(ctx context.Context, frame []byte, repeats int, interval time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrSocketClosed
	}
	abortCh := make(chan struct{})
	t.abortCh = abortCh
	t.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		if _, err := t.conn.WriteToUDP(frame, t.broadcastAddr); err != nil {
			if errors.Is(err, syscall.ENOBUFS) {
				return dfu.ErrBeaconBufferExhausted
			}
			return fmt.Errorf("broadcast write: %w", err)
		}
		sent++
		if repeats != 0 && sent >= repeats {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-abortCh:
			return nil
		case <-ticker.C:
		}
	}
}

// Abort stops whatever Broadcast call is currently in flight.
func (t *UDPTransport) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abortCh != nil {
		close(t.abortCh)
		t.abortCh = nil
	}
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.abortCh != nil {
		close(t.abortCh)
		t.abortCh = nil
	}
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("close radio socket: %w", err)
	}
	return nil
}
