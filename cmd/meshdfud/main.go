// meshdfud daemon -- mesh DFU coordinator (SPEC_FULL.md).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meshdfu/meshdfu/internal/adminapi"
	"github.com/meshdfu/meshdfu/internal/config"
	"github.com/meshdfu/meshdfu/internal/dfu"
	"github.com/meshdfu/meshdfu/internal/flashsim"
	"github.com/meshdfu/meshdfu/internal/infopage"
	dfumetrics "github.com/meshdfu/meshdfu/internal/metrics"
	"github.com/meshdfu/meshdfu/internal/radio"
	appversion "github.com/meshdfu/meshdfu/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("meshdfud starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.AdminAPI.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Load the device's persisted info page.
	info, err := infopage.Load(cfg.Device.ProfilePath, infopage.LoadOptions{Provision: cfg.Device.Provision})
	if err != nil {
		logger.Error("failed to load device profile",
			slog.String("path", cfg.Device.ProfilePath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := dfumetrics.NewCollector(reg)

	// 6. Open the flash bank and bind the broadcast transport.
	writer, err := flashsim.NewFileWriter(cfg.Device.FlashImagePath)
	if err != nil {
		logger.Error("failed to open flash image",
			slog.String("path", cfg.Device.FlashImagePath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer writer.Close()

	transport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		logger.Error("failed to bind radio transport", slog.String("error", err.Error()))
		return 1
	}
	defer transport.Close()

	// 7. Build the coordinator with metrics wired in via callbacks, and run
	// it alongside the admin API and metrics servers.
	coordinator := dfu.NewCoordinator(info, writer, transport,
		dfu.WithLogger(logger),
		dfu.WithStateCallback(func(sc dfu.StateChange) {
			collector.SetState(sc.New)
			if sc.New == dfu.StateDFUReady {
				collector.RecordTransactionStarted()
			}
		}),
		dfu.WithAbortCallback(func(reason dfu.AbortReason, launchBootloader bool) {
			collector.RecordRunResult(reason)
			launchApp(logger, reason, launchBootloader)
		}),
		dfu.WithTraceCallback(func(e dfu.TraceEvent) {
			switch e {
			case dfu.TraceSegmentWritten:
				collector.IncSegmentsWritten()
			case dfu.TraceSegmentRelayed:
				collector.IncSegmentsRelayed()
			case dfu.TraceDataRspServed:
				collector.IncDataRspServed()
			case dfu.TraceSignatureFailure:
				collector.IncSignatureFailures()
			case dfu.TraceBeaconBufferExhausted:
				collector.IncBeaconBufferExhausted()
			}
		}),
	)

	if err := runServers(cfg, coordinator, transport, info, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("meshdfud exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("meshdfud stopped")
	return 0
}

// launchApp stands in for the bootloader's jump-to-application entry
// point (§6): there is no real application image to jump to in a hosted
// simulation, so the daemon only logs which entry point the real
// bootloader would hand control to.
func launchApp(logger *slog.Logger, reason dfu.AbortReason, launchBootloader bool) {
	target := "application"
	if launchBootloader {
		target = "bootloader"
	}
	logger.Info("coordinator run ended, launching entry point",
		slog.String("reason", reason.String()),
		slog.String("target", target),
	)
}

// newTransport binds the UDP broadcast transport described by cfg.
func newTransport(cfg config.TransportConfig, logger *slog.Logger) (*radio.UDPTransport, error) {
	bindAddr, err := netip.ParseAddr(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("parse transport.bind_addr %q: %w", cfg.BindAddr, err)
	}
	broadcastAddr, err := netip.ParseAddr(cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("parse transport.broadcast_addr %q: %w", cfg.BroadcastAddr, err)
	}
	return radio.NewUDPTransport(bindAddr, cfg.Port, broadcastAddr, logger)
}

// runServers sets up and runs the coordinator, admin API, and metrics HTTP
// servers using an errgroup with signal-aware context for graceful
// shutdown.
func runServers(
	cfg *config.Config,
	coordinator *dfu.Coordinator,
	transport *radio.UDPTransport,
	info *dfu.InfoView,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := adminapi.NewServer(cfg.AdminAPI.Addr, coordinator, info, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	recv, err := newReceiver(cfg.Transport, coordinator, logger)
	if err != nil {
		return fmt.Errorf("bind receiver: %w", err)
	}
	g.Go(func() error {
		return recv.Run(gCtx)
	})

	g.Go(func() error {
		_, runErr := coordinator.Run(gCtx)
		return runErr
	})

	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, transport, logger, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// newReceiver opens a second UDP socket bound to the same port (with
// SO_REUSEADDR, see internal/radio/sockopts.go) to read inbound
// advertising frames, separately from the transport's send-only socket.
func newReceiver(cfg config.TransportConfig, sink radio.Sink, logger *slog.Logger) (*radio.Receiver, error) {
	bindAddr, err := netip.ParseAddr(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("parse transport.bind_addr %q: %w", cfg.BindAddr, err)
	}
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(context.Background(), "udp4", netip.AddrPortFrom(bindAddr, cfg.Port).String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", bindAddr, cfg.Port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp: unexpected conn type %T", pc)
	}
	return radio.NewReceiver(conn, sink, logger), nil
}

// startHTTPServers registers the admin API and metrics HTTP server
// goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin API listening", slog.String("addr", cfg.AdminAPI.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.AdminAPI.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload
// goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// listenAndServe binds addr and serves srv on it until ctx is canceled,
// at which point a nil error is returned instead of http.ErrServerClosed.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The interval
// is WatchdogSec/2 as recommended by the systemd documentation. If
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration. On
// reload, the log level is updated dynamically via the shared LevelVar.
// Unlike the BFD daemon this is descended from, there is no declarative
// session set to reconcile: a single coordinator's identity and transport
// are fixed for the process lifetime, so reload only rearms logging.
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path and
// updates the dynamic log level. Errors during reload are logged but do
// not stop the daemon -- the previous configuration remains in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Warn("failed to reload configuration, keeping previous", slog.String("error", err.Error()))
		return
	}
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger.Info("configuration reloaded", slog.String("log_level", cfg.Log.Level))
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, aborts
// any in-flight broadcast, then shuts down HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	transport *radio.UDPTransport,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	transport.Abort()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Config + Logger Setup
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
