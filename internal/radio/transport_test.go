//go:build linux

package radio

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

func TestUDPTransportBroadcastRoundTrip(t *testing.T) {
	local := netip.MustParseAddr("127.0.0.1")
	tx, err := NewUDPTransport(local, 0, netip.MustParseAddr("127.0.0.1"), nil)
	if err != nil {
		t.Fatalf("NewUDPTransport tx: %v", err)
	}
	defer tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- tx.Broadcast(ctx, []byte("hello"), 3, 5*time.Millisecond)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast did not complete")
	}
}

func TestUDPTransportAbortStopsInfiniteBroadcast(t *testing.T) {
	local := netip.MustParseAddr("127.0.0.1")
	tx, err := NewUDPTransport(local, 0, local, nil)
	if err != nil {
		t.Fatalf("NewUDPTransport: %v", err)
	}
	defer tx.Close()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- tx.Broadcast(ctx, []byte("beacon"), dfu.RepeatInfinite, 5*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	tx.Abort()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Abort did not stop an infinite broadcast")
	}
}

func TestUDPTransportBroadcastAfterCloseFails(t *testing.T) {
	local := netip.MustParseAddr("127.0.0.1")
	tx, err := NewUDPTransport(local, 0, local, nil)
	if err != nil {
		t.Fatalf("NewUDPTransport: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := tx.Broadcast(context.Background(), []byte("x"), 1, time.Millisecond); err != ErrSocketClosed {
		t.Fatalf("err = %v, want ErrSocketClosed", err)
	}
}
