package adminapi

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// NewServer builds an *http.Server for the admin API, wrapped with h2c to
// support HTTP/2 without TLS (the same plumbing internal/server's
// newGRPCServer exercises for its ConnectRPC endpoint), so meshdfuctl can
// speak HTTP/2 to a plaintext listener.
func NewServer(addr string, coordinator Controller, info *dfu.InfoView, logger *slog.Logger) *http.Server {
	mux := New(coordinator, info, logger)
	handler := LoggingMiddleware(logger, RecoveryMiddleware(logger, mux))

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
