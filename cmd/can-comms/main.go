package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/session"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-comms %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	a, err := startApp(ctx, cfg, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}

	var ready func() bool
	switch cfg.transport {
	case transport.KindUSB:
		srv := newUSBServer(cfg, a.comms, a.gate, a.rx.Notify(), l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runUSB(ctx, srv, l); err != nil {
				cancel()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			advertise(ctx, cfg, srv, l)
		}()
		ready = func() bool {
			select {
			case <-srv.Ready():
			default:
				return false
			}
			return ctx.Err() == nil
		}
	case transport.KindSPI:
		var opened atomic.Bool
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSPI(ctx, cfg, a.comms, a.gate, a.rx.Notify(), func() { opened.Store(true) }, l)
		}()
		ready = func() bool { return opened.Load() && ctx.Err() == nil }
	}

	metrics.SetReadinessFunc(ready)
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	l.Info("started", "version", version, "backend", cfg.backend, "buses", len(cfg.canIfs), "transport", cfg.transport)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	a.close()
	wg.Wait()
}

// registerMDNS is a hook for tests (overridden in unit tests).
var registerMDNS = startMDNS

// advertise starts mDNS once the usb listener is bound and withdraws it
// before returning.
func advertise(ctx context.Context, cfg *appConfig, srv *session.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	port := portOf(srv.Addr())
	cleanupMDNS, err := registerMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	<-ctx.Done()
	cleanupMDNS()
}
