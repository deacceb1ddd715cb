//go:build linux

package radio

import (
	"context"
	"log/slog"
	"net"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// Sink is the subset of dfu.Coordinator that Receiver needs: something to
// hand decoded packets to. Named separately so tests can substitute a fake
// without pulling in a whole Coordinator.
type Sink interface {
	RecvPacket(pkt dfu.Packet)
}

// Receiver reads advertising frames from a UDP socket and decodes them
// into dfu.Packet values for a Coordinator, mirroring internal/netio's
// Receiver/Listener split: Run owns the read loop, recvOne owns a single
// read-decode cycle, and malformed or foreign-mesh frames are dropped
// silently rather than treated as fatal.
type Receiver struct {
	conn   *net.UDPConn
	sink   Sink
	logger *slog.Logger
}

// NewReceiver builds a Receiver reading from conn and routing decoded
// packets to sink.
func NewReceiver(conn *net.UDPConn, sink Sink, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{conn: conn, sink: sink, logger: logger.With(slog.String("component", "radio.receiver"))}
}

// Run reads frames until ctx is canceled. Errors from individual reads are
// logged but do not stop the loop, matching the teacher's recvLoop
// discipline of only context cancellation terminating receipt.
func (r *Receiver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = r.conn.Close()
	}()

	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("recv error", "error", err)
			continue
		}
		r.recvOne(buf[:n])
	}
}

func (r *Receiver) recvOne(frame []byte) {
	pkt, err := dfu.Decode(frame)
	if err != nil {
		r.logger.Debug("dropping frame", "error", err)
		return
	}
	r.sink.RecvPacket(pkt)
}
