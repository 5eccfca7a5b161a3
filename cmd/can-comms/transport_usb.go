package main

import (
	"context"
	"log/slog"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/session"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// newUSBServer builds the TCP endpoint standing in for the USB bulk pipe.
func newUSBServer(cfg *appConfig, c *comms.Comms, gate *transport.Gate, wake <-chan struct{}, l *slog.Logger) *session.Server {
	return session.NewServer(
		session.WithListenAddr(cfg.listenAddr),
		session.WithComms(c),
		session.WithGate(gate),
		session.WithWake(wake),
		session.WithChunk(cfg.usbChunk),
		session.WithPollInterval(cfg.pollInterval),
		session.WithHandshakeTimeout(cfg.handshakeTO),
		session.WithLogger(l.With("transport", transport.KindUSB)),
	)
}

// runUSB serves host sessions until ctx is done.
func runUSB(ctx context.Context, srv *session.Server, l *slog.Logger) error {
	err := srv.Serve(ctx)
	if err != nil {
		l.Error("tcp_server_error", "error", err)
	}
	return err
}
