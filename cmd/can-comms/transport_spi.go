package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/serial"
	"github.com/kstaniek/go-can-comms/internal/session"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// runSPI drives the serial link as the spi transport. Each (re)opened port is
// a fresh session; open failures and link errors back off exponentially.
// It returns when ctx is done.
func runSPI(ctx context.Context, cfg *appConfig, c *comms.Comms, gate *transport.Gate, wake <-chan struct{}, ready func(), l *slog.Logger) {
	l = l.With("transport", transport.KindSPI, "device", cfg.serialDev)
	backoff := rxBackoffMin
	for ctx.Err() == nil {
		port, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			metrics.IncError(metrics.ErrSerialOpen)
			l.Warn("serial_open_error", "error", err, "backoff", backoff)
			backoff = spiBackoff(ctx, backoff)
			continue
		}
		l.Info("serial_open", "baud", cfg.baud)
		if ready != nil {
			ready()
			ready = nil
		}
		err = session.Run(ctx, serial.NewLink(port), c, session.Config{
			Chunk:  cfg.spiChunk,
			Poll:   cfg.pollInterval,
			Wake:   wake,
			Gate:   gate,
			Logger: l,
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = rxBackoffMin
		}
		l.Warn("serial_link_lost", "error", err, "backoff", backoff)
		backoff = spiBackoff(ctx, backoff)
	}
}

func spiBackoff(ctx context.Context, d time.Duration) time.Duration {
	sleepFn(ctx, d)
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
