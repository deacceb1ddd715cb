//go:build linux

package radio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

type fakeSink struct {
	mu  sync.Mutex
	got []dfu.Packet
}

func (s *fakeSink) RecvPacket(pkt dfu.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, pkt)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestReceiverDecodesAndDropsForeignFrames(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	sink := &fakeSink{}
	r := NewReceiver(conn, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	sender, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sender.Close()

	id := dfu.Identity{CompanyID: 1, AppID: 2, AppVersion: 3}
	if _, err := sender.Write(dfu.EncodeFWID(id)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := sender.Write([]byte("not a dfu frame")); err != nil {
		t.Fatalf("Write garbage: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if sink.count() != 1 {
		t.Fatalf("sink received %d packets, want exactly 1 (garbage must be dropped)", sink.count())
	}
	if sink.got[0].Type != dfu.PacketFWID || sink.got[0].FWID != id {
		t.Fatalf("got %+v, want FWID %+v", sink.got[0], id)
	}
}
